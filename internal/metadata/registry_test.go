package metadata

import (
	"errors"
	"sync"
	"testing"
)

type parentListener struct {
	mu    sync.Mutex
	calls int
}

// OnMetadataNotFound resolves registered proxies to their parent record.
func (l *parentListener) OnMetadataNotFound(ev *NotFoundEvent) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()

	proxy, ok := ev.Lookup().ProxyOf(ev.ClassName())
	if !ok {
		return
	}
	rec, err := ev.Lookup().ClassMetadata(proxy.Parent)
	if err != nil {
		return
	}
	ev.SetFoundMetadata(rec)
}

type silentListener struct{ calls int }

func (l *silentListener) OnMetadataNotFound(*NotFoundEvent) { l.calls++ }

type TestProductArchive struct {
	TestProduct
}

func TestRegistryRegisterEntity(t *testing.T) {
	reg := NewRegistry(nil)

	rec, err := reg.RegisterEntity(&TestProduct{})
	if err != nil {
		t.Fatalf("RegisterEntity() error = %v", err)
	}
	again, err := reg.RegisterEntity(TestProduct{})
	if err != nil {
		t.Fatalf("second RegisterEntity() error = %v", err)
	}
	if rec != again {
		t.Error("RegisterEntity() should return the cached record on re-registration")
	}

	got, err := reg.ClassMetadata(NameOf(TestProduct{}))
	if err != nil {
		t.Fatalf("ClassMetadata() error = %v", err)
	}
	if got != rec {
		t.Error("ClassMetadata() returned a different record than RegisterEntity()")
	}

	if _, err := reg.RegisterEntity(&TestProductNoKey{}); err == nil {
		t.Error("RegisterEntity() without key should fail")
	}
}

func TestRegistryClassMetadataMiss(t *testing.T) {
	reg := NewRegistry(nil)
	listener := &silentListener{}
	reg.AddNotFoundListener(listener)

	_, err := reg.ClassMetadata(NameOf(TestProduct{}))
	if !errors.Is(err, ErrMetadataNotFound) {
		t.Fatalf("ClassMetadata() error = %v, want ErrMetadataNotFound", err)
	}
	if listener.calls != 1 {
		t.Errorf("listener calls = %d, want 1", listener.calls)
	}
}

func TestRegistryProxyResolution(t *testing.T) {
	reg := NewRegistry(nil)
	listener := &parentListener{}
	reg.AddNotFoundListener(listener)

	parent, err := reg.RegisterEntity(&TestProduct{})
	if err != nil {
		t.Fatalf("RegisterEntity() error = %v", err)
	}
	proxy, err := reg.RegisterProxy(&TestProductArchive{}, &TestProduct{})
	if err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}
	if proxy.Parent != parent.Name {
		t.Errorf("proxy.Parent = %v, want %v", proxy.Parent, parent.Name)
	}
	if reg.Cached(proxy.Name) {
		t.Error("proxy should not be cached before first lookup")
	}

	got, err := reg.ClassMetadata(proxy.Name)
	if err != nil {
		t.Fatalf("ClassMetadata(proxy) error = %v", err)
	}
	if got != parent {
		t.Error("proxy should resolve to the parent record")
	}
	if !reg.Cached(proxy.Name) {
		t.Error("proxy should be cached after resolution")
	}

	// Served from cache; the listener is not consulted again.
	if _, err := reg.ClassMetadata(proxy.Name); err != nil {
		t.Fatalf("cached ClassMetadata(proxy) error = %v", err)
	}
	if listener.calls != 1 {
		t.Errorf("listener calls = %d, want 1", listener.calls)
	}
}

func TestRegistryListenersConsultedInOrder(t *testing.T) {
	reg := NewRegistry(nil)
	first := &silentListener{}
	second := &parentListener{}
	third := &silentListener{}
	reg.AddNotFoundListener(first)
	reg.AddNotFoundListener(second)
	reg.AddNotFoundListener(third)
	reg.AddNotFoundListener(nil)

	if _, err := reg.RegisterEntity(&TestProduct{}); err != nil {
		t.Fatalf("RegisterEntity() error = %v", err)
	}
	if _, err := reg.RegisterProxy(&TestProductArchive{}, &TestProduct{}); err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}

	if _, err := reg.ClassMetadata(NameOf(TestProductArchive{})); err != nil {
		t.Fatalf("ClassMetadata() error = %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
	if third.calls != 0 {
		t.Errorf("listeners after a resolution should be skipped, got %d calls", third.calls)
	}
}

func TestRegistryRegisterProxyValidation(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.RegisterEntity(&TestProduct{}); err != nil {
		t.Fatalf("RegisterEntity() error = %v", err)
	}

	tests := []struct {
		name   string
		proxy  interface{}
		parent interface{}
	}{
		{name: "nil proxy", proxy: nil, parent: &TestProduct{}},
		{name: "self proxy", proxy: &TestProduct{}, parent: TestProduct{}},
		{name: "registered entity as proxy", proxy: &TestProduct{}, parent: &TestOrderLine{}},
		{name: "non-struct", proxy: 1, parent: &TestProduct{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.RegisterProxy(tt.proxy, tt.parent); err == nil {
				t.Error("RegisterProxy() should fail")
			}
		})
	}

	if _, err := reg.RegisterProxy(&TestProductArchive{}, &TestProduct{}); err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}
	if _, err := reg.RegisterProxy(&TestProductArchive{}, &TestProduct{}); err != nil {
		t.Errorf("re-registering the same proxy should succeed, got %v", err)
	}
	if _, err := reg.RegisterProxy(&TestProductArchive{}, &TestOrderLine{}); err == nil {
		t.Error("re-registering a proxy with another parent should fail")
	}
	if _, err := reg.RegisterEntity(&TestProductArchive{}); err == nil {
		t.Error("registering a proxy as an entity should fail")
	}
}

func TestRegistryRejectsProxyCycles(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.RegisterProxy(&TestProductArchive{}, &TestProductView{}); err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}
	if _, err := reg.RegisterProxy(&TestProductView{}, &TestProductArchive{}); err == nil {
		t.Error("RegisterProxy() forming a cycle should fail")
	}
}

func TestRegistryConcurrentLookups(t *testing.T) {
	reg := NewRegistry(nil)
	reg.AddNotFoundListener(&parentListener{})
	parent, err := reg.RegisterEntity(&TestProduct{})
	if err != nil {
		t.Fatalf("RegisterEntity() error = %v", err)
	}
	proxy, err := reg.RegisterProxy(&TestProductArchive{}, &TestProduct{})
	if err != nil {
		t.Fatalf("RegisterProxy() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := reg.ClassMetadata(proxy.Name)
			if err != nil {
				errs <- err
				return
			}
			if rec != parent {
				errs <- errors.New("unexpected record")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
