package readonly

// ManagerConfig controls optional Manager behaviours.
type ManagerConfig struct {
	// GuardDirectWrites installs GORM callbacks on the database handle that reject
	// read-only models passed straight to Create, Save, Update or Delete.
	GuardDirectWrites bool

	// FirstViolationOnly makes Flush report only the first read-only entity found.
	FirstViolationOnly bool

	// Observability enables tracing and metrics. Nil disables both.
	Observability *ObservabilityConfig
}
