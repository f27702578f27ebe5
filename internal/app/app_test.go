package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/store/sqlstore"
)

func testConfig(backend, path string) *config.Config {
	return &config.Config{
		Storage:  config.StorageConfig{Backend: backend, Path: path},
		Currency: config.CurrencyConfig{Settlement: "EUR", Rates: currency.DefaultRates},
		Queue:    config.QueueConfig{Buffer: 4, Workers: 1, MaxRetries: 2},
	}
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	repo, closeFn, err := OpenRepository(ctx, testConfig(config.BackendMemory, ""))
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Errorf("memory backend returned %T", repo)
	}
	_ = closeFn()

	repo, closeFn, err = OpenRepository(ctx, testConfig(config.BackendSQLite, filepath.Join(t.TempDir(), "ledger.db")))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := repo.(*sqlstore.Store); !ok {
		t.Errorf("sqlite backend returned %T", repo)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close sqlite: %v", err)
	}

	if _, _, err := OpenRepository(ctx, testConfig("postgres", "")); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestNew_WiresServices(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(config.BackendMemory, ""), logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Storage != nil {
		t.Error("storage should be disabled without a bucket")
	}
	svc := a.Services()
	if svc.Storage != nil {
		t.Error("Services().Storage should be a nil interface without a bucket")
	}
	if svc.Settlement != "EUR" || svc.Publisher == nil || svc.JobStore == nil {
		t.Errorf("services = %+v", svc)
	}

	acc, err := a.Ledger.CreateAccount(ctx, "owner", ledger.AccountInput{Name: "Conto"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := a.Imports.Importer().ImportHistory(ctx, "owner", 0); err != nil {
		t.Errorf("ImportHistory: %v", err)
	}
	if _, err := a.Ledger.RecalculateBalance(ctx, "owner", acc.ID); err != nil {
		t.Errorf("RecalculateBalance: %v", err)
	}
}
