package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

const tradeColumns = `
	trade_id, seq, owner_id, portfolio_id, instrument_id, side,
	quantity, price, fee, total, executed_at, note`

// CreatePortfolio inserts a portfolio row.
func (s *Store) CreatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (portfolio_id, owner_id, name, kind, created_ts)
		VALUES (@portfolio_id, @owner_id, @name, @kind, @created_ts)
	`, s.table(portfoliosTable))

	_, err := s.exec(ctx, "CreatePortfolio", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: p.ID},
		{Name: "owner_id", Value: p.OwnerID},
		{Name: "name", Value: p.Name},
		{Name: "kind", Value: p.Kind},
		{Name: "created_ts", Value: p.CreatedAt},
	})
	return err
}

// GetPortfolio returns the owner's portfolio or domain.ErrNotFound.
func (s *Store) GetPortfolio(ctx context.Context, ownerID, portfolioID string) (*domain.Portfolio, error) {
	sql := fmt.Sprintf(`
		SELECT portfolio_id, owner_id, name, kind, created_ts
		FROM %s
		WHERE owner_id = @owner_id AND portfolio_id = @portfolio_id
		LIMIT 1
	`, s.table(portfoliosTable))

	row, err := readOne[PortfolioRow](ctx, s, "GetPortfolio", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "portfolio_id", Value: portfolioID},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("portfolio", portfolioID)
	}
	return row.toDomain(), nil
}

// ListPortfolios returns the owner's portfolios, oldest first.
func (s *Store) ListPortfolios(ctx context.Context, ownerID string) ([]*domain.Portfolio, error) {
	sql := fmt.Sprintf(`
		SELECT portfolio_id, owner_id, name, kind, created_ts
		FROM %s
		WHERE owner_id = @owner_id
		ORDER BY created_ts
	`, s.table(portfoliosTable))

	rows, err := readRows[PortfolioRow](ctx, s, "ListPortfolios", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Portfolio, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// CreateTrade inserts t with the next sequence number and reads it back.
// Concurrent inserts into the same table may race on MAX(seq); the
// accountant serializes writers per position, which keeps ties within a
// position ordered.
func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	row := toTradeRow(t)
	sql := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT
			@trade_id, IFNULL(MAX(seq), 0) + 1, @owner_id, @portfolio_id, @instrument_id, @side,
			@quantity, @price, @fee, @total, @executed_at, @note
		FROM %[1]s
	`, s.table(tradesTable), tradeColumns)

	if _, err := s.exec(ctx, "CreateTrade", sql, row.params()); err != nil {
		return err
	}

	stored, err := s.GetTrade(ctx, t.OwnerID, t.ID)
	if err != nil {
		return fmt.Errorf("CreateTrade: reading sequence: %w", err)
	}
	t.Seq = stored.Seq
	return nil
}

// GetTrade returns the owner's trade or domain.ErrNotFound.
func (s *Store) GetTrade(ctx context.Context, ownerID, tradeID string) (*domain.Trade, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND trade_id = @trade_id
		LIMIT 1
	`, tradeColumns, s.table(tradesTable))

	row, err := readOne[TradeRow](ctx, s, "GetTrade", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "trade_id", Value: tradeID},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("trade", tradeID)
	}
	return row.toDomain(), nil
}

// UpdateTrade replaces a trade, keeping its seq.
func (s *Store) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET portfolio_id = @portfolio_id,
		    instrument_id = @instrument_id,
		    side = @side,
		    quantity = @quantity,
		    price = @price,
		    fee = @fee,
		    total = @total,
		    executed_at = @executed_at,
		    note = @note
		WHERE owner_id = @owner_id AND trade_id = @trade_id
	`, s.table(tradesTable))

	n, err := s.exec(ctx, "UpdateTrade", sql, toTradeRow(t).params())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("trade", t.ID)
	}
	return nil
}

// DeleteTrade removes a trade.
func (s *Store) DeleteTrade(ctx context.Context, ownerID, tradeID string) error {
	sql := fmt.Sprintf(`
		DELETE FROM %s
		WHERE owner_id = @owner_id AND trade_id = @trade_id
	`, s.table(tradesTable))

	n, err := s.exec(ctx, "DeleteTrade", sql, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "trade_id", Value: tradeID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("trade", tradeID)
	}
	return nil
}

// ListTradesForPosition returns the pair's trades in replay order.
func (s *Store) ListTradesForPosition(ctx context.Context, portfolioID, instrumentID string) ([]*domain.Trade, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE portfolio_id = @portfolio_id AND instrument_id = @instrument_id
		ORDER BY executed_at, seq
	`, tradeColumns, s.table(tradesTable))

	return s.listTrades(ctx, "ListTradesForPosition", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: portfolioID},
		{Name: "instrument_id", Value: instrumentID},
	})
}

// ListTrades returns a portfolio's trades, newest first.
func (s *Store) ListTrades(ctx context.Context, ownerID, portfolioID string, limit int) ([]*domain.Trade, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE owner_id = @owner_id AND portfolio_id = @portfolio_id
		ORDER BY executed_at DESC, seq DESC
	`, tradeColumns, s.table(tradesTable))
	params := []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "portfolio_id", Value: portfolioID},
	}
	if limit > 0 {
		sql += "\t\tLIMIT @limit\n"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}
	return s.listTrades(ctx, "ListTrades", sql, params)
}

func (s *Store) listTrades(ctx context.Context, op, sql string, params []bigquery.QueryParameter) ([]*domain.Trade, error) {
	rows, err := readRows[TradeRow](ctx, s, op, sql, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpsertPosition writes the materialized holding for a pair.
func (s *Store) UpsertPosition(ctx context.Context, p *domain.Position) error {
	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @portfolio_id AS portfolio_id, @instrument_id AS instrument_id) S
		ON T.portfolio_id = S.portfolio_id AND T.instrument_id = S.instrument_id
		WHEN MATCHED THEN
			UPDATE SET quantity = @quantity, avg_cost = @avg_cost, updated_ts = @updated_ts
		WHEN NOT MATCHED THEN
			INSERT (portfolio_id, instrument_id, quantity, avg_cost, updated_ts)
			VALUES (@portfolio_id, @instrument_id, @quantity, @avg_cost, @updated_ts)
	`, s.table(positionsTable))

	_, err := s.exec(ctx, "UpsertPosition", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: p.PortfolioID},
		{Name: "instrument_id", Value: p.InstrumentID},
		{Name: "quantity", Value: ratOf(p.Quantity)},
		{Name: "avg_cost", Value: ratOf(p.AvgCost)},
		{Name: "updated_ts", Value: p.UpdatedAt},
	})
	return err
}

// DeletePosition removes a pair's holding. Deleting a missing row is not an error.
func (s *Store) DeletePosition(ctx context.Context, portfolioID, instrumentID string) error {
	sql := fmt.Sprintf(`
		DELETE FROM %s
		WHERE portfolio_id = @portfolio_id AND instrument_id = @instrument_id
	`, s.table(positionsTable))

	_, err := s.exec(ctx, "DeletePosition", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: portfolioID},
		{Name: "instrument_id", Value: instrumentID},
	})
	return err
}

// GetPosition returns a pair's holding or domain.ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, portfolioID, instrumentID string) (*domain.Position, error) {
	sql := fmt.Sprintf(`
		SELECT portfolio_id, instrument_id, quantity, avg_cost, updated_ts
		FROM %s
		WHERE portfolio_id = @portfolio_id AND instrument_id = @instrument_id
		LIMIT 1
	`, s.table(positionsTable))

	row, err := readOne[PositionRow](ctx, s, "GetPosition", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: portfolioID},
		{Name: "instrument_id", Value: instrumentID},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.NotFound("position", portfolioID+"/"+instrumentID)
	}
	return row.toDomain(), nil
}

// ListPositions returns a portfolio's holdings ordered by instrument.
func (s *Store) ListPositions(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	sql := fmt.Sprintf(`
		SELECT portfolio_id, instrument_id, quantity, avg_cost, updated_ts
		FROM %s
		WHERE portfolio_id = @portfolio_id
		ORDER BY instrument_id
	`, s.table(positionsTable))

	rows, err := readRows[PositionRow](ctx, s, "ListPositions", sql, []bigquery.QueryParameter{
		{Name: "portfolio_id", Value: portfolioID},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
