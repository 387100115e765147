package readonly

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Invoice is a plain writable entity.
type Invoice struct {
	ID     uint            `json:"id" gorm:"primaryKey"`
	Number string          `json:"number" gorm:"not null"`
	Amount decimal.Decimal `json:"amount" gorm:"type:decimal(12,2)"`
}

// ReadOnlyInvoice is a read-only proxy over Invoice.
type ReadOnlyInvoice struct {
	Invoice
}

func (ReadOnlyInvoice) ReadOnlyEntity() {}

// ArchivedInvoice is a proxy over Invoice that is not read-only.
type ArchivedInvoice struct {
	Invoice
}

// LedgerEntry is writable unless it was loaded read-only.
type LedgerEntry struct {
	Marker `json:"-" gorm:"-"`
	ID     uint            `json:"id" gorm:"primaryKey"`
	Memo   string          `json:"memo"`
	Amount decimal.Decimal `json:"amount" gorm:"type:decimal(12,2)"`
}

// AuditRecord is read-only at the type level and has its own table.
type AuditRecord struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Message string `json:"message"`
}

func (*AuditRecord) ReadOnlyEntity() {}

// Credential keeps a stored column out of its JSON form.
type Credential struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Owner  string `json:"owner"`
	Secret string `json:"-"`
}

// ReadOnlyCredential is a read-only proxy over Credential.
type ReadOnlyCredential struct {
	Credential
}

func (ReadOnlyCredential) ReadOnlyEntity() {}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to connect to database")

	// Every connection to :memory: opens a fresh database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&Invoice{}, &LedgerEntry{}, &AuditRecord{}))
	return db
}

func setupTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	m, err := NewManagerWithConfig(db, cfg)
	require.NoError(t, err)
	require.NoError(t, m.RegisterEntity(&Invoice{}))
	require.NoError(t, m.RegisterEntity(&LedgerEntry{}))
	require.NoError(t, m.RegisterEntity(&AuditRecord{}))
	require.NoError(t, m.RegisterProxy(&ReadOnlyInvoice{}, &Invoice{}))
	require.NoError(t, m.RegisterProxy(&ArchivedInvoice{}, &Invoice{}))
	return m, db
}

func seedInvoice(t *testing.T, db *gorm.DB, number string, amount string) *Invoice {
	t.Helper()

	inv := &Invoice{Number: number, Amount: decimal.RequireFromString(amount)}
	require.NoError(t, db.Create(inv).Error)
	return inv
}
