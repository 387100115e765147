package entities

import (
	"time"

	"github.com/nlstn/go-readonly"
	"github.com/shopspring/decimal"
)

// Invoice is a writable billing document.
type Invoice struct {
	ID       uint            `json:"id" gorm:"primaryKey"`
	Number   string          `json:"number" gorm:"not null;uniqueIndex"`
	Customer string          `json:"customer" gorm:"not null"`
	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(12,2)"`
	IssuedAt time.Time       `json:"issuedAt"`
}

// ReadOnlyInvoice exposes posted invoices. It maps onto the invoices table
// and is rejected by every write path.
type ReadOnlyInvoice struct {
	Invoice
}

// ReadOnlyEntity marks ReadOnlyInvoice as read-only.
func (ReadOnlyInvoice) ReadOnlyEntity() {}

// LedgerEntry is writable unless it was loaded read-only.
type LedgerEntry struct {
	readonly.Marker `json:"-" gorm:"-"`
	ID              uint            `json:"id" gorm:"primaryKey"`
	InvoiceID       uint            `json:"invoiceId" gorm:"not null;index"`
	Memo            string          `json:"memo"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(12,2)"`
}

// GetSampleInvoices returns sample data for invoices.
func GetSampleInvoices() []Invoice {
	issued := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	return []Invoice{
		{Number: "INV-2024-001", Customer: "Contoso", Amount: decimal.RequireFromString("1200.00"), IssuedAt: issued},
		{Number: "INV-2024-002", Customer: "Fabrikam", Amount: decimal.RequireFromString("349.90"), IssuedAt: issued.AddDate(0, 0, 3)},
	}
}
