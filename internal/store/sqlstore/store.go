// Package sqlstore is the relational Repository backed by gorm and SQLite.
// Imported-row uniqueness is enforced by a composite unique index on
// (account_id, fingerprint).
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures Open.
type Options struct {
	Path   string
	LogSQL bool
}

// Store implements store.Repository on a gorm handle. Inside RunInTx the
// handle is the open transaction.
type Store struct {
	db *gorm.DB
}

var _ store.Repository = (*Store)(nil)

// Open creates the database file if needed, tunes the connection pool and
// migrates the schema.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("Open: %w", domain.Invalid("sqlite path is required"))
	}
	inMemory := opts.Path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("Open: create db dir: %w", err)
		}
	}

	gormLog := gormlogger.Default
	if !opts.LogSQL {
		gormLog = gormLog.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(dsn(opts.Path, inMemory)), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("Open: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("Open: get sql db: %w", err)
	}
	if inMemory {
		// Every new connection would get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, fmt.Errorf("Open: auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn inside one database transaction.
// dsn carries the PRAGMAs as driver parameters so every pooled connection
// applies them, not only the first one.
func dsn(path string, inMemory bool) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	params.Set("_synchronous", "NORMAL")
	if !inMemory {
		params.Set("_journal_mode", "WAL")
	}
	return path + "?" + params.Encode()
}

func (s *Store) RunInTx(ctx context.Context, fn func(store.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate maps driver errors onto the domain taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFoundOr(op, entity, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound(entity, id)
	}
	return translate(op, err)
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	return translate("CreateAccount", s.db.WithContext(ctx).Create(fromAccount(a)).Error)
}

func (s *Store) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	var m accountModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", accountID, ownerID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetAccount", "account", accountID, err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.Account, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var rows []accountModel
	if err := q.Order("created_at DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, translate("ListAccounts", err)
	}
	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ? AND owner_id = ?", a.ID, a.OwnerID).
		Updates(map[string]interface{}{
			"name":       a.Name,
			"kind":       string(a.Kind),
			"currency":   a.Currency,
			"is_active":  a.IsActive,
			"updated_at": a.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return translate("UpdateAccount", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("account", a.ID)
	}
	return nil
}

func (s *Store) UpdateAccountBalance(ctx context.Context, ownerID, accountID string, balance decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ? AND owner_id = ?", accountID, ownerID).
		Updates(map[string]interface{}{
			"current_balance": balance,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return translate("UpdateAccountBalance", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("account", accountID)
	}
	return nil
}

// Transactions

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return translate("CreateTransaction", s.db.WithContext(ctx).Create(fromTransaction(tx)).Error)
}

func (s *Store) GetTransaction(ctx context.Context, ownerID, id string) (*domain.Transaction, error) {
	var m transactionModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetTransaction", "transaction", id, err)
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	res := s.db.WithContext(ctx).Model(&transactionModel{}).
		Where("id = ? AND owner_id = ?", tx.ID, tx.OwnerID).
		Select("*").Omit("id", "owner_id", "created_at").
		Updates(fromTransaction(tx))
	if res.Error != nil {
		return translate("UpdateTransaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("transaction", tx.ID)
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&transactionModel{})
	if res.Error != nil {
		return translate("DeleteTransaction", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("transaction", id)
	}
	return nil
}

func (s *Store) filtered(ctx context.Context, ownerID string, f store.TransactionFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&transactionModel{}).Where("owner_id = ?", ownerID)
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.Uncategorized {
		q = q.Where("category_id IS NULL")
	} else if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if f.ImportBatchID != "" {
		q = q.Where("import_batch_id = ?", f.ImportBatchID)
	}
	if f.Merchant != "" {
		q = q.Where("LOWER(merchant) LIKE ?", "%"+strings.ToLower(f.Merchant)+"%")
	}
	if f.MinAmount != nil {
		q = q.Where("CAST(amount_settlement AS REAL) >= ?", f.MinAmount.InexactFloat64())
	}
	if f.MaxAmount != nil {
		q = q.Where("CAST(amount_settlement AS REAL) <= ?", f.MaxAmount.InexactFloat64())
	}
	if f.From != nil {
		q = q.Where("occurred_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("occurred_at <= ?", f.To.UTC())
	}
	return q
}

func toTransactions(rows []transactionModel) []*domain.Transaction {
	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) ([]*domain.Transaction, error) {
	q := s.filtered(ctx, ownerID, f).Order("occurred_at DESC, created_at DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []transactionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("ListTransactions", err)
	}
	return toTransactions(rows), nil
}

func (s *Store) CountTransactions(ctx context.Context, ownerID string, f store.TransactionFilter) (int, error) {
	var n int64
	if err := s.filtered(ctx, ownerID, f).Count(&n).Error; err != nil {
		return 0, translate("CountTransactions", err)
	}
	return int(n), nil
}

func (s *Store) ListTransactionsForAccount(ctx context.Context, ownerID, accountID string) ([]*domain.Transaction, error) {
	var rows []transactionModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND (account_id = ? OR transfer_to_account_id = ? OR transfer_from_account_id = ?)",
			ownerID, accountID, accountID, accountID).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("ListTransactionsForAccount", err)
	}
	return toTransactions(rows), nil
}

func (s *Store) ListTransferLegs(ctx context.Context, ownerID, linkedTransferID string) ([]*domain.Transaction, error) {
	var rows []transactionModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND linked_transfer_id = ?", ownerID, linkedTransferID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("ListTransferLegs", err)
	}
	return toTransactions(rows), nil
}

func (s *Store) SetCategory(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&transactionModel{}).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Updates(map[string]interface{}{"category_id": categoryID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, translate("SetCategory", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Snapshots

func (s *Store) UpsertBalanceSnapshot(ctx context.Context, snap *domain.BalanceSnapshot) error {
	m := &snapshotModel{
		AccountID: snap.AccountID,
		Day:       snap.Date.Format(time.DateOnly),
		Date:      snap.Date,
		Balance:   snap.Balance,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"date", "balance"}),
	}).Create(m).Error
	return translate("UpsertBalanceSnapshot", err)
}

func (s *Store) ListBalanceSnapshots(ctx context.Context, accountID string, since time.Time) ([]*domain.BalanceSnapshot, error) {
	var rows []snapshotModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND day >= ?", accountID, since.Format(time.DateOnly)).
		Order("day ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("ListBalanceSnapshots", err)
	}
	out := make([]*domain.BalanceSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.BalanceSnapshot{AccountID: r.AccountID, Date: r.Date, Balance: r.Balance})
	}
	return out, nil
}

// Portfolios

func (s *Store) CreatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	m := &portfolioModel{ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Kind: p.Kind, CreatedAt: p.CreatedAt.UTC()}
	return translate("CreatePortfolio", s.db.WithContext(ctx).Create(m).Error)
}

func (s *Store) GetPortfolio(ctx context.Context, ownerID, portfolioID string) (*domain.Portfolio, error) {
	var m portfolioModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", portfolioID, ownerID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetPortfolio", "portfolio", portfolioID, err)
	}
	return &domain.Portfolio{ID: m.ID, OwnerID: m.OwnerID, Name: m.Name, Kind: m.Kind, CreatedAt: m.CreatedAt}, nil
}

func (s *Store) ListPortfolios(ctx context.Context, ownerID string) ([]*domain.Portfolio, error) {
	var rows []portfolioModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, translate("ListPortfolios", err)
	}
	out := make([]*domain.Portfolio, 0, len(rows))
	for _, m := range rows {
		out = append(out, &domain.Portfolio{ID: m.ID, OwnerID: m.OwnerID, Name: m.Name, Kind: m.Kind, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// Trades

func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	m := fromTrade(t)
	m.Seq = 0
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return translate("CreateTrade", err)
	}
	t.Seq = m.Seq
	return nil
}

func (s *Store) GetTrade(ctx context.Context, ownerID, tradeID string) (*domain.Trade, error) {
	var m tradeModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", tradeID, ownerID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetTrade", "trade", tradeID, err)
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	cur, err := s.GetTrade(ctx, t.OwnerID, t.ID)
	if err != nil {
		return err
	}
	m := fromTrade(t)
	m.Seq = cur.Seq
	err = s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("seq = ?", cur.Seq).
		Select("instrument_id", "side", "quantity", "price", "fee", "total", "executed_at", "note").
		Updates(m).Error
	if err != nil {
		return translate("UpdateTrade", err)
	}
	t.Seq = cur.Seq
	return nil
}

func (s *Store) DeleteTrade(ctx context.Context, ownerID, tradeID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", tradeID, ownerID).Delete(&tradeModel{})
	if res.Error != nil {
		return translate("DeleteTrade", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("trade", tradeID)
	}
	return nil
}

func toTrades(rows []tradeModel) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func (s *Store) ListTradesForPosition(ctx context.Context, portfolioID, instrumentID string) ([]*domain.Trade, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ? AND instrument_id = ?", portfolioID, instrumentID).
		Order("executed_at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("ListTradesForPosition", err)
	}
	return toTrades(rows), nil
}

func (s *Store) ListTrades(ctx context.Context, ownerID, portfolioID string, limit int) ([]*domain.Trade, error) {
	q := s.db.WithContext(ctx).
		Where("owner_id = ? AND portfolio_id = ?", ownerID, portfolioID).
		Order("executed_at DESC, seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []tradeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("ListTrades", err)
	}
	return toTrades(rows), nil
}

// Positions

func (s *Store) UpsertPosition(ctx context.Context, p *domain.Position) error {
	m := &positionModel{
		PortfolioID:  p.PortfolioID,
		InstrumentID: p.InstrumentID,
		Quantity:     p.Quantity,
		AvgCost:      p.AvgCost,
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "portfolio_id"}, {Name: "instrument_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_cost", "updated_at"}),
	}).Create(m).Error
	return translate("UpsertPosition", err)
}

func (s *Store) DeletePosition(ctx context.Context, portfolioID, instrumentID string) error {
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ? AND instrument_id = ?", portfolioID, instrumentID).
		Delete(&positionModel{}).Error
	return translate("DeletePosition", err)
}

func (m *positionModel) toDomain() *domain.Position {
	return &domain.Position{
		PortfolioID:  m.PortfolioID,
		InstrumentID: m.InstrumentID,
		Quantity:     m.Quantity,
		AvgCost:      m.AvgCost,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (s *Store) GetPosition(ctx context.Context, portfolioID, instrumentID string) (*domain.Position, error) {
	var m positionModel
	err := s.db.WithContext(ctx).Where("portfolio_id = ? AND instrument_id = ?", portfolioID, instrumentID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetPosition", "position", portfolioID+"/"+instrumentID, err)
	}
	return m.toDomain(), nil
}

func (s *Store) ListPositions(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	var rows []positionModel
	if err := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).Order("instrument_id ASC").Find(&rows).Error; err != nil {
		return nil, translate("ListPositions", err)
	}
	out := make([]*domain.Position, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Import batches

func (s *Store) CreateImportBatch(ctx context.Context, b *domain.ImportBatch) error {
	m, err := fromBatch(b)
	if err != nil {
		return fmt.Errorf("CreateImportBatch: encoding errors: %w", err)
	}
	return translate("CreateImportBatch", s.db.WithContext(ctx).Create(m).Error)
}

func (s *Store) UpdateImportBatch(ctx context.Context, ownerID, batchID string, patch domain.BatchPatch) error {
	errs, err := json.Marshal(patch.Errors)
	if err != nil {
		return fmt.Errorf("UpdateImportBatch: encoding errors: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&batchModel{}).
		Where("id = ? AND owner_id = ?", batchID, ownerID).
		Updates(map[string]interface{}{
			"status":         string(patch.Status),
			"total_rows":     patch.TotalRows,
			"imported_rows":  patch.ImportedRows,
			"duplicate_rows": patch.DuplicateRows,
			"error_rows":     patch.ErrorRows,
			"errors":         string(errs),
			"completed_at":   patch.CompletedAt,
		})
	if res.Error != nil {
		return translate("UpdateImportBatch", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("import batch", batchID)
	}
	return nil
}

func (s *Store) GetImportBatch(ctx context.Context, ownerID, batchID string) (*domain.ImportBatch, error) {
	var m batchModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", batchID, ownerID).First(&m).Error
	if err != nil {
		return nil, notFoundOr("GetImportBatch", "import batch", batchID, err)
	}
	b, err := m.toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetImportBatch: decoding errors: %w", err)
	}
	return b, nil
}

func (s *Store) ListImportBatches(ctx context.Context, ownerID string, limit int) ([]*domain.ImportBatch, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []batchModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("ListImportBatches", err)
	}
	out := make([]*domain.ImportBatch, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListImportBatches: decoding batch %s: %w", rows[i].ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}
