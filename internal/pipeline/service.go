package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/gcsuploader"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/statement"
)

// BalanceRecalculator replays an account's history into its balance.
type BalanceRecalculator interface {
	RecalculateBalance(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
}

// Fetcher downloads statement files by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ImportService is the entry point the API, worker and CLI use. It runs an
// import and then recalculates the account balance, which the Importer
// itself never does.
type ImportService struct {
	importer *Importer
	ledger   BalanceRecalculator
	fetcher  Fetcher
}

// NewImportService wires an importer to the ledger. fetcher may be nil when
// remote statements are not used.
func NewImportService(importer *Importer, ledger BalanceRecalculator, fetcher Fetcher) *ImportService {
	return &ImportService{importer: importer, ledger: ledger, fetcher: fetcher}
}

// Importer exposes the underlying importer for preview and history calls.
func (s *ImportService) Importer() *Importer { return s.importer }

// ImportResult is an execute result plus the recalculated account.
type ImportResult struct {
	*ExecuteResult
	Account *domain.Account `json:"account"`
}

// Execute imports a statement and recalculates the balance. A failed
// recalculation is returned even though the rows were written. A failed
// batch still triggers the recalculation, since stores without
// transactions keep the rows written before the failure.
func (s *ImportService) Execute(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	res, err := s.importer.Execute(ctx, req)
	if err != nil {
		bf, ok := IsBatchFailure(err)
		if !ok {
			return nil, err
		}
		if _, rerr := s.ledger.RecalculateBalance(ctx, req.OwnerID, req.AccountID); rerr != nil && !errors.Is(rerr, domain.ErrNotFound) {
			return nil, errors.Join(err, fmt.Errorf("Execute: recalculating balance after failed batch %s: %w", bf.BatchID, rerr))
		}
		return nil, err
	}

	account, err := s.ledger.RecalculateBalance(ctx, req.OwnerID, req.AccountID)
	if err != nil {
		return &ImportResult{ExecuteResult: res}, fmt.Errorf("Execute: recalculating balance after batch %s: %w", res.BatchID, err)
	}
	return &ImportResult{ExecuteResult: res, Account: account}, nil
}

// ImportFromGCS downloads a statement, converts spreadsheets to text,
// detects a mapping when none is given and executes the import.
func (s *ImportService) ImportFromGCS(ctx context.Context, ownerID, accountID, gcsURI string, mapping *statement.ImportMapping) (*ImportResult, error) {
	log := logger.FromContext(ctx)
	if s.fetcher == nil {
		return nil, fmt.Errorf("ImportFromGCS: no storage configured")
	}

	data, err := s.fetcher.Fetch(ctx, gcsURI)
	if err != nil {
		return nil, fmt.Errorf("ImportFromGCS: %w", err)
	}

	filename := gcsuploader.Filename(gcsURI)
	content := string(data)
	if statement.IsSpreadsheet(filename) {
		content, err = statement.FromSpreadsheet(data)
		if err != nil {
			return nil, fmt.Errorf("ImportFromGCS: %w", err)
		}
	}

	var m statement.ImportMapping
	if mapping != nil {
		m = *mapping
	} else {
		detected, err := DetectColumns(content)
		if err != nil {
			return nil, fmt.Errorf("ImportFromGCS: %w", err)
		}
		if detected.SuggestedMapping == nil {
			return nil, domain.Invalid("could not detect a date column in %s", filename)
		}
		m = *detected.SuggestedMapping
		log.Info().Str("file", filename).Str("delimiter", m.Delimiter).Str("date_format", string(m.DateFormat)).Msg("Detected statement mapping")
	}

	if statement.IsSpreadsheet(filename) {
		// Spreadsheet cells are already UTF-8.
		m.Encoding = "utf-8"
	}

	return s.Execute(ctx, ImportRequest{
		OwnerID:   ownerID,
		AccountID: accountID,
		Content:   content,
		Mapping:   m,
		Filename:  filename,
		Source:    "gcs",
	})
}
