package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	outgoingTransferDescription = "Trasferimento in uscita"
	incomingTransferDescription = "Trasferimento in entrata"
)

// TransferInput describes a movement of money between two of the owner's
// accounts. A zero OccurredAt means now.
type TransferInput struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Description   string          `json:"description"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Outgoing *domain.Transaction `json:"outgoing"`
	Incoming *domain.Transaction `json:"incoming"`
}

// CreateTransfer writes the two legs of a transfer and moves the converted
// amount from the source balance to the destination balance.
func (l *Ledger) CreateTransfer(ctx context.Context, ownerID string, in TransferInput) (*TransferResult, error) {
	log := logger.FromContext(ctx)

	if in.FromAccountID == in.ToAccountID {
		return nil, fmt.Errorf("CreateTransfer: %w", domain.ErrInvalidTransfer)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("CreateTransfer: %w", domain.Invalid("amount must be positive"))
	}
	ccy, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, fmt.Errorf("CreateTransfer: %w", err)
	}
	if _, err := l.repo.GetAccount(ctx, ownerID, in.FromAccountID); err != nil {
		return nil, fmt.Errorf("CreateTransfer: source: %w", err)
	}
	if _, err := l.repo.GetAccount(ctx, ownerID, in.ToAccountID); err != nil {
		return nil, fmt.Errorf("CreateTransfer: destination: %w", err)
	}

	settlement, err := l.converter.Convert(ctx, in.Amount, ccy, l.settlement)
	if err != nil {
		return nil, fmt.Errorf("CreateTransfer: converting %s %s: %w", in.Amount, ccy, err)
	}

	now := l.clock.Now()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	linked := l.newID()
	from, to := in.FromAccountID, in.ToAccountID

	leg := func(accountID, defaultDescription string) *domain.Transaction {
		desc := in.Description
		if strings.TrimSpace(desc) == "" {
			desc = defaultDescription
		}
		return &domain.Transaction{
			ID:               l.newID(),
			OwnerID:          ownerID,
			AccountID:        accountID,
			Kind:             domain.KindTransfer,
			Amount:           in.Amount,
			AmountSettlement: settlement,
			Currency:         ccy,
			Description:      &desc,
			OccurredAt:       occurred,
			LinkedTransferID: &linked,
			ImportSource:     domain.SourceTransfer,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	out := leg(from, outgoingTransferDescription)
	out.TransferToAccountID = &to
	inc := leg(to, incomingTransferDescription)
	inc.TransferFromAccountID = &from

	err = l.repo.RunInTx(ctx, func(repo store.Repository) error {
		if err := repo.CreateTransaction(ctx, out); err != nil {
			return fmt.Errorf("outgoing leg: %w", err)
		}
		if err := repo.CreateTransaction(ctx, inc); err != nil {
			return fmt.Errorf("incoming leg: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("CreateTransfer: %w", err)
	}

	if _, err := l.ApplyBalanceDelta(ctx, ownerID, from, settlement, DirectionTransferOut); err != nil {
		return nil, fmt.Errorf("CreateTransfer: %w", err)
	}
	if _, err := l.ApplyBalanceDelta(ctx, ownerID, to, settlement, DirectionTransferIn); err != nil {
		return nil, fmt.Errorf("CreateTransfer: %w", err)
	}

	log.Info().
		Str("linked_transfer_id", linked).
		Str("from", from).
		Str("to", to).
		Str("amount", settlement.String()).
		Msg("Transfer created")
	return &TransferResult{Outgoing: out, Incoming: inc}, nil
}

// TransactionInput describes a manual income or expense.
type TransactionInput struct {
	AccountID   string                 `json:"accountId"`
	Kind        domain.TransactionKind `json:"type"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	CategoryID  string                 `json:"categoryId"`
	Merchant    string                 `json:"merchant"`
	Description string                 `json:"description"`
	Note        string                 `json:"note"`
	OccurredAt  time.Time              `json:"transactionDate"`
}

// CreateTransaction records an income or expense and applies it to the
// account balance. Transfers go through CreateTransfer.
func (l *Ledger) CreateTransaction(ctx context.Context, ownerID string, in TransactionInput) (*domain.Transaction, error) {
	var dir Direction
	switch in.Kind {
	case domain.KindIncome:
		dir = DirectionIncome
	case domain.KindExpense:
		dir = DirectionExpense
	case domain.KindTransfer:
		return nil, fmt.Errorf("CreateTransaction: %w", domain.Invalid("use CreateTransfer for transfers"))
	default:
		return nil, fmt.Errorf("CreateTransaction: %w", domain.Invalid("unknown transaction type %q", in.Kind))
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("CreateTransaction: %w", domain.Invalid("amount must be positive"))
	}
	ccy, err := currency.Normalize(in.Currency)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	if _, err := l.repo.GetAccount(ctx, ownerID, in.AccountID); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	settlement, err := l.converter.Convert(ctx, in.Amount, ccy, l.settlement)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: converting %s %s: %w", in.Amount, ccy, err)
	}

	now := l.clock.Now()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	tx := &domain.Transaction{
		ID:               l.newID(),
		OwnerID:          ownerID,
		AccountID:        in.AccountID,
		Kind:             in.Kind,
		Amount:           in.Amount,
		AmountSettlement: settlement,
		Currency:         ccy,
		CategoryID:       domain.StringPtr(in.CategoryID),
		Merchant:         domain.StringPtr(in.Merchant),
		Description:      domain.StringPtr(in.Description),
		Note:             domain.StringPtr(in.Note),
		OccurredAt:       occurred,
		ImportSource:     domain.SourceManual,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	if _, err := l.ApplyBalanceDelta(ctx, ownerID, in.AccountID, settlement, dir); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}
	return tx, nil
}

// TransactionPatch is a partial update. Nil fields are left unchanged.
type TransactionPatch struct {
	AccountID   *string                 `json:"accountId"`
	Kind        *domain.TransactionKind `json:"type"`
	Amount      *decimal.Decimal        `json:"amount"`
	Currency    *string                 `json:"currency"`
	CategoryID  *string                 `json:"categoryId"`
	Merchant    *string                 `json:"merchant"`
	Description *string                 `json:"description"`
	Note        *string                 `json:"note"`
	OccurredAt  *time.Time              `json:"transactionDate"`
}

func (p TransactionPatch) affectsBalance() bool {
	return p.AccountID != nil || p.Kind != nil || p.Amount != nil || p.Currency != nil
}

// UpdateTransaction applies a patch and replays every account whose balance
// may have changed. Amount, currency and date changes on a transfer leg are
// mirrored onto its sibling.
func (l *Ledger) UpdateTransaction(ctx context.Context, ownerID, id string, p TransactionPatch) (*domain.Transaction, error) {
	tx, err := l.repo.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}
	touched := []string{tx.AccountID}
	isTransfer := tx.Kind == domain.KindTransfer

	if p.Kind != nil {
		switch {
		case !p.Kind.Valid():
			return nil, fmt.Errorf("UpdateTransaction: %w", domain.Invalid("unknown transaction type %q", *p.Kind))
		case isTransfer && *p.Kind != domain.KindTransfer:
			return nil, fmt.Errorf("UpdateTransaction: %w", domain.Invalid("a transfer leg cannot change type"))
		case !isTransfer && *p.Kind == domain.KindTransfer:
			return nil, fmt.Errorf("UpdateTransaction: %w", domain.Invalid("use CreateTransfer for transfers"))
		}
		tx.Kind = *p.Kind
	}
	if p.AccountID != nil && *p.AccountID != tx.AccountID {
		if isTransfer {
			return nil, fmt.Errorf("UpdateTransaction: %w", domain.Invalid("a transfer leg cannot move accounts"))
		}
		if _, err := l.repo.GetAccount(ctx, ownerID, *p.AccountID); err != nil {
			return nil, fmt.Errorf("UpdateTransaction: %w", err)
		}
		tx.AccountID = *p.AccountID
		touched = append(touched, tx.AccountID)
	}
	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("UpdateTransaction: %w", domain.Invalid("amount must be positive"))
		}
		tx.Amount = *p.Amount
	}
	if p.Currency != nil {
		ccy, err := currency.Normalize(*p.Currency)
		if err != nil {
			return nil, fmt.Errorf("UpdateTransaction: %w", err)
		}
		tx.Currency = ccy
	}
	if p.Amount != nil || p.Currency != nil {
		settlement, err := l.converter.Convert(ctx, tx.Amount, tx.Currency, l.settlement)
		if err != nil {
			return nil, fmt.Errorf("UpdateTransaction: converting %s %s: %w", tx.Amount, tx.Currency, err)
		}
		tx.AmountSettlement = settlement
	}
	if p.CategoryID != nil {
		tx.CategoryID = domain.StringPtr(*p.CategoryID)
	}
	if p.Merchant != nil {
		tx.Merchant = domain.StringPtr(*p.Merchant)
	}
	if p.Description != nil {
		tx.Description = domain.StringPtr(*p.Description)
	}
	if p.Note != nil {
		tx.Note = domain.StringPtr(*p.Note)
	}
	if p.OccurredAt != nil {
		tx.OccurredAt = *p.OccurredAt
	}
	tx.UpdatedAt = l.clock.Now()

	var siblings []*domain.Transaction
	if isTransfer && tx.LinkedTransferID != nil {
		legs, err := l.repo.ListTransferLegs(ctx, ownerID, *tx.LinkedTransferID)
		if err != nil {
			return nil, fmt.Errorf("UpdateTransaction: listing transfer legs: %w", err)
		}
		for _, leg := range legs {
			if leg.ID == tx.ID {
				continue
			}
			leg.Amount = tx.Amount
			leg.AmountSettlement = tx.AmountSettlement
			leg.Currency = tx.Currency
			leg.OccurredAt = tx.OccurredAt
			leg.UpdatedAt = tx.UpdatedAt
			siblings = append(siblings, leg)
		}
		touched = append(touched, tx.TransferSource(), tx.TransferDestination())
	}

	err = l.repo.RunInTx(ctx, func(repo store.Repository) error {
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		for _, leg := range siblings {
			if err := repo.UpdateTransaction(ctx, leg); err != nil {
				return fmt.Errorf("sibling leg %s: %w", leg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateTransaction: %w", err)
	}

	if p.affectsBalance() {
		if err := l.recalculateAll(ctx, ownerID, touched); err != nil {
			return nil, fmt.Errorf("UpdateTransaction: %w", err)
		}
	}
	return tx, nil
}

// expandLegs loads tx plus its sibling transfer legs.
func (l *Ledger) expandLegs(ctx context.Context, ownerID string, tx *domain.Transaction) ([]*domain.Transaction, error) {
	if tx.Kind != domain.KindTransfer || tx.LinkedTransferID == nil {
		return []*domain.Transaction{tx}, nil
	}
	legs, err := l.repo.ListTransferLegs(ctx, ownerID, *tx.LinkedTransferID)
	if err != nil {
		return nil, fmt.Errorf("listing transfer legs: %w", err)
	}
	for _, leg := range legs {
		if leg.ID == tx.ID {
			return legs, nil
		}
	}
	return append(legs, tx), nil
}

func touchedAccounts(txs []*domain.Transaction) []string {
	var ids []string
	for _, tx := range txs {
		ids = append(ids, tx.AccountID)
		if tx.TransferToAccountID != nil {
			ids = append(ids, *tx.TransferToAccountID)
		}
		if tx.TransferFromAccountID != nil {
			ids = append(ids, *tx.TransferFromAccountID)
		}
	}
	return ids
}

// DeleteTransaction removes a transaction, and its sibling leg for a
// transfer, then replays every touched account.
func (l *Ledger) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	tx, err := l.repo.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	legs, err := l.expandLegs(ctx, ownerID, tx)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}

	err = l.repo.RunInTx(ctx, func(repo store.Repository) error {
		for _, leg := range legs {
			if err := repo.DeleteTransaction(ctx, ownerID, leg.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}

	if err := l.recalculateAll(ctx, ownerID, touchedAccounts(legs)); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// BulkDelete removes the given transactions, skipping unknown ids, and
// replays the affected accounts once each. It returns how many of the
// requested ids were deleted.
func (l *Ledger) BulkDelete(ctx context.Context, ownerID string, ids []string) (int, error) {
	log := logger.FromContext(ctx)

	var doomed []*domain.Transaction
	seen := make(map[string]struct{})
	requested := 0
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		tx, err := l.repo.GetTransaction(ctx, ownerID, id)
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().Str("transaction_id", id).Msg("Skipping unknown transaction in bulk delete")
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("BulkDelete: %w", err)
		}
		requested++
		legs, err := l.expandLegs(ctx, ownerID, tx)
		if err != nil {
			return 0, fmt.Errorf("BulkDelete: %w", err)
		}
		for _, leg := range legs {
			if _, dup := seen[leg.ID]; dup {
				continue
			}
			seen[leg.ID] = struct{}{}
			doomed = append(doomed, leg)
		}
	}

	err := l.repo.RunInTx(ctx, func(repo store.Repository) error {
		for _, tx := range doomed {
			if err := repo.DeleteTransaction(ctx, ownerID, tx.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("BulkDelete: %w", err)
	}

	accounts := touchedAccounts(doomed)
	sort.Strings(accounts)
	if err := l.recalculateAll(ctx, ownerID, accounts); err != nil {
		return requested, fmt.Errorf("BulkDelete: %w", err)
	}
	return requested, nil
}

// BulkCategorize assigns categoryID to the given transactions.
func (l *Ledger) BulkCategorize(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	if strings.TrimSpace(categoryID) == "" {
		return 0, fmt.Errorf("BulkCategorize: %w", domain.Invalid("category id is required"))
	}
	n, err := l.repo.SetCategory(ctx, ownerID, ids, categoryID)
	if err != nil {
		return 0, fmt.Errorf("BulkCategorize: %w", err)
	}
	return n, nil
}

// UncategorizedCount counts the owner's transactions without a category.
func (l *Ledger) UncategorizedCount(ctx context.Context, ownerID string) (int, error) {
	n, err := l.repo.CountTransactions(ctx, ownerID, store.TransactionFilter{Uncategorized: true})
	if err != nil {
		return 0, fmt.Errorf("UncategorizedCount: %w", err)
	}
	return n, nil
}

// GetTransaction returns one of the owner's transactions.
func (l *Ledger) GetTransaction(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	tx, err := l.repo.GetTransaction(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return tx, nil
}

// TransactionPage is one page of a filtered transaction listing.
type TransactionPage struct {
	Items   []*domain.Transaction `json:"data"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	HasMore bool                  `json:"hasMore"`
}

// ListTransactions returns a page of the owner's transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) (*TransactionPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, err := l.repo.ListTransactions(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	total, err := l.repo.CountTransactions(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: counting: %w", err)
	}
	return &TransactionPage{
		Items:   items,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(items) < total,
	}, nil
}
