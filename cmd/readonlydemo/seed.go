package main

import (
	"fmt"

	"github.com/nlstn/go-readonly/cmd/readonlydemo/entities"
	"gorm.io/gorm"
)

// seedDatabase recreates the demo tables and inserts the sample invoices.
func seedDatabase(db *gorm.DB) error {
	// Intentionally ignoring errors if tables don't exist (first-time setup)
	//nolint:errcheck
	_ = db.Migrator().DropTable(&entities.LedgerEntry{})
	//nolint:errcheck
	_ = db.Migrator().DropTable(&entities.Invoice{})

	if err := db.AutoMigrate(&entities.Invoice{}, &entities.LedgerEntry{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	invoices := entities.GetSampleInvoices()
	if err := db.Create(&invoices).Error; err != nil {
		return fmt.Errorf("failed to seed invoices: %w", err)
	}

	entries := make([]entities.LedgerEntry, 0, len(invoices))
	for _, inv := range invoices {
		entries = append(entries, entities.LedgerEntry{
			InvoiceID: inv.ID,
			Memo:      "posted " + inv.Number,
			Amount:    inv.Amount,
		})
	}
	if err := db.Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to seed ledger entries: %w", err)
	}
	return nil
}
