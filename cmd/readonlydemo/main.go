package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/nlstn/go-readonly"
	"github.com/nlstn/go-readonly/cmd/readonlydemo/entities"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Parse command-line flags
	dbType := flag.String("db", "sqlite", "Database type: sqlite or postgres")
	dbDSN := flag.String("dsn", "", "Database DSN (connection string). For postgres, use postgresql://... format. For sqlite, use file path or :memory:")
	guard := flag.Bool("guard", true, "Reject read-only models passed directly to GORM")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	db, err := openDatabase(*dbType, *dbDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := seedDatabase(db); err != nil {
		log.Fatal("Failed to seed database:", err)
	}

	manager, err := readonly.NewManagerWithConfig(db, readonly.ManagerConfig{GuardDirectWrites: *guard})
	if err != nil {
		log.Fatal("Failed to create manager:", err)
	}
	if err := manager.RegisterEntity(&entities.Invoice{}); err != nil {
		log.Fatal("Failed to register Invoice entity:", err)
	}
	if err := manager.RegisterEntity(&entities.LedgerEntry{}); err != nil {
		log.Fatal("Failed to register LedgerEntry entity:", err)
	}
	if err := manager.RegisterProxy(&entities.ReadOnlyInvoice{}, &entities.Invoice{}); err != nil {
		log.Fatal("Failed to register ReadOnlyInvoice proxy:", err)
	}

	if err := run(context.Background(), manager); err != nil {
		log.Fatal(err)
	}
}

func openDatabase(dbType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch dbType {
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// Every connection to :memory: opens a fresh database.
		sqlDB.SetMaxOpenConns(1)
		fmt.Println("📦 Using SQLite database:", dsn)
		return db, nil

	case "postgres":
		if dsn == "" {
			// Check for environment variable as fallback
			dsn = os.Getenv("DATABASE_URL")
			if dsn == "" {
				return nil, errors.New("PostgreSQL DSN required. Use -dsn flag or set DATABASE_URL environment variable")
			}
		}
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
		}
		fmt.Println("🐘 Using PostgreSQL database")
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s. Use 'sqlite' or 'postgres'", dbType)
	}
}

// run walks through the read and write paths for read-only entities.
func run(ctx context.Context, manager *readonly.Manager) error {
	var posted entities.ReadOnlyInvoice
	if err := manager.Find(ctx, &posted, "number = ?", "INV-2024-001"); err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	fmt.Printf("✅ Loaded %s for %s (%s)\n", posted.Number, posted.Customer, posted.Amount.StringFixed(2))

	// Read-only entities still bind as query parameters.
	var entries []entities.LedgerEntry
	if err := manager.DB().Where("invoice_id = ?", manager.BindParam(&posted)).Find(&entries).Error; err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}
	fmt.Printf("✅ Found %d ledger entries for invoice %v\n", len(entries), manager.BindParam(&posted))

	report("Persist read-only invoice", manager.Persist(&posted))

	posted.Amount = posted.Amount.Mul(decimal.NewFromInt(2))
	report("Flush edited read-only invoice", manager.Flush(ctx))
	manager.Detach(&posted)

	// Without -guard this write reaches the database.
	report("Save read-only invoice through GORM", manager.DB().Table("invoices").Save(&posted).Error)

	var entry entities.LedgerEntry
	if err := manager.FindReadOnly(ctx, &entry, "invoice_id = ?", posted.ID); err != nil {
		return fmt.Errorf("failed to load ledger entry: %w", err)
	}
	if err := manager.Remove(&entry); err != nil {
		return err
	}
	report("Flush removal of sealed ledger entry", manager.Flush(ctx))
	manager.Detach(&entry)

	draft := &entities.Invoice{
		Number:   "INV-2024-003",
		Customer: "Northwind",
		Amount:   decimal.RequireFromString("75.00"),
		IssuedAt: posted.IssuedAt.AddDate(0, 1, 0),
	}
	if err := manager.Persist(draft); err != nil {
		return err
	}
	if err := manager.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush draft invoice: %w", err)
	}
	fmt.Printf("✅ Inserted writable invoice %s with id %d\n", draft.Number, draft.ID)
	return nil
}

func report(step string, err error) {
	switch {
	case err == nil:
		fmt.Printf("⚠️  %s: accepted\n", step)
	case readonly.IsReadOnlyViolation(err):
		fmt.Printf("🔒 %s: %v\n", step, err)
	default:
		fmt.Printf("❌ %s: %v\n", step, err)
	}
}
