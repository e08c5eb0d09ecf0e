package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Margin reserves ---

func (s *PostgresStore) CreateReserve(ctx context.Context, r *model.MarginReserve) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO margin_reserves (aircraft_id, current_balance, required_minimum, alert_threshold_percent, version, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (aircraft_id) DO NOTHING`,
		r.AircraftID,
		r.CurrentBalance.String(), r.RequiredMinimum.String(), r.AlertThresholdPercent.String(),
		r.Version, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reserve %s: %w", r.AircraftID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reserve for %s", ErrAlreadyExists, r.AircraftID)
	}
	return nil
}

const reserveColumns = `aircraft_id, current_balance::TEXT, required_minimum::TEXT,
	alert_threshold_percent::TEXT, version, created_at, updated_at`

func scanReserve(row pgx.Row) (*model.MarginReserve, error) {
	var r model.MarginReserve
	var balance, minimum, threshold string
	if err := row.Scan(&r.AircraftID, &balance, &minimum, &threshold,
		&r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CurrentBalance = dec(balance)
	r.RequiredMinimum = dec(minimum)
	r.AlertThresholdPercent = dec(threshold)
	return &r, nil
}

func (s *PostgresStore) GetReserve(ctx context.Context, aircraftID string) (*model.MarginReserve, error) {
	r, err := scanReserve(s.pool.QueryRow(ctx,
		`SELECT `+reserveColumns+` FROM margin_reserves WHERE aircraft_id = $1`, aircraftID))
	if err != nil {
		return nil, fmt.Errorf("get reserve %s: %w", aircraftID, notFound(err))
	}
	return r, nil
}

func (s *PostgresStore) ListReserves(ctx context.Context) ([]model.MarginReserve, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reserveColumns+` FROM margin_reserves ORDER BY aircraft_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reserves []model.MarginReserve
	for rows.Next() {
		r, err := scanReserve(rows)
		if err != nil {
			return nil, err
		}
		reserves = append(reserves, *r)
	}
	return reserves, rows.Err()
}

// ApplyReserveMovement updates the reserve only if nobody else has since the
// caller read it, and appends the movement in the same transaction.
func (s *PostgresStore) ApplyReserveMovement(ctx context.Context, r *model.MarginReserve, m *model.ReserveMovement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE margin_reserves
		 SET current_balance = $2::NUMERIC, version = $3, updated_at = $4
		 WHERE aircraft_id = $1 AND version = $3 - 1`,
		r.AircraftID, r.CurrentBalance.String(), r.Version, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update reserve %s: %w", r.AircraftID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM margin_reserves WHERE aircraft_id = $1)`, r.AircraftID).
			Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: reserve for %s", ErrNotFound, r.AircraftID)
		}
		return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, r.AircraftID, r.Version-1)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO reserve_movements (id, aircraft_id, type, amount, movement_date, balance_after, justification, sequence, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9)`,
		m.ID, m.AircraftID, string(m.Type), m.Amount.String(), m.Date,
		m.BalanceAfter.String(), m.Justification, m.Sequence, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListReserveMovements(ctx context.Context, aircraftID string) ([]model.ReserveMovement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, aircraft_id, type, amount::TEXT, movement_date, balance_after::TEXT,
		        justification, sequence, created_at
		 FROM reserve_movements WHERE aircraft_id = $1 ORDER BY sequence`, aircraftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []model.ReserveMovement
	for rows.Next() {
		var m model.ReserveMovement
		var typ, amount, after string
		if err := rows.Scan(&m.ID, &m.AircraftID, &typ, &amount, &m.Date, &after,
			&m.Justification, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = model.MovementType(typ)
		m.Amount = dec(amount)
		m.BalanceAfter = dec(after)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- Investment positions ---

// CreatePosition inserts the position and moves operating cash in the same
// transaction.
func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	raw := model.Flatten(p.Params)
	_, err = tx.Exec(ctx,
		`INSERT INTO investment_positions (id, aircraft_id, principal, start_date, end_date, investment_type,
		        percent_of_index, annual_rate, expected_inflation, spread,
		        day_count_base, capitalization_mode, status, is_simulation,
		        estimated_final_value, realized_value, created_at, closed_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13, $14,
		         $15::NUMERIC, $16::NUMERIC, $17, $18)`,
		p.ID, p.AircraftID, p.Principal.String(), p.StartDate, p.EndDate, string(p.Type),
		nullArg(raw.PercentOfIndex), nullArg(raw.AnnualRate), nullArg(raw.ExpectedInflation), nullArg(raw.Spread),
		int(p.DayCountBase), string(p.Capitalization), string(p.Status), p.IsSimulation,
		p.EstimatedFinalValue.String(), nullArg(p.RealizedValue), p.CreatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create position %s: %w", p.ID, err)
	}
	if err := moveCash(ctx, tx, p.AircraftID, cashDelta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE investment_positions
		 SET status = $2, is_simulation = $3, estimated_final_value = $4::NUMERIC,
		     realized_value = $5::NUMERIC, closed_at = $6
		 WHERE id = $1`,
		p.ID, string(p.Status), p.IsSimulation, p.EstimatedFinalValue.String(),
		nullArg(p.RealizedValue), p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	if err := moveCash(ctx, tx, p.AircraftID, cashDelta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const positionColumns = `id, aircraft_id, principal::TEXT, start_date, end_date, investment_type,
	percent_of_index::TEXT, annual_rate::TEXT, expected_inflation::TEXT, spread::TEXT,
	day_count_base, capitalization_mode, status, is_simulation,
	estimated_final_value::TEXT, realized_value::TEXT, created_at, closed_at`

func scanPosition(row pgx.Row) (*model.InvestmentPosition, error) {
	var p model.InvestmentPosition
	var principal, typ, capitalization, status, estimate string
	var percent, annual, inflation, spread, realized *string
	var base int
	if err := row.Scan(&p.ID, &p.AircraftID, &principal, &p.StartDate, &p.EndDate, &typ,
		&percent, &annual, &inflation, &spread,
		&base, &capitalization, &status, &p.IsSimulation,
		&estimate, &realized, &p.CreatedAt, &p.ClosedAt); err != nil {
		return nil, err
	}
	p.Principal = dec(principal)
	p.Type = model.InvestmentType(typ)
	p.Params = model.RawParams{
		PercentOfIndex:    nullDec(percent),
		AnnualRate:        nullDec(annual),
		ExpectedInflation: nullDec(inflation),
		Spread:            nullDec(spread),
	}.Params()
	p.DayCountBase = model.DayCountBase(base)
	p.Capitalization = model.CapitalizationMode(capitalization)
	p.Status = model.PositionStatus(status)
	p.EstimatedFinalValue = dec(estimate)
	p.RealizedValue = nullDec(realized)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.InvestmentPosition, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM investment_positions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM investment_positions WHERE aircraft_id = $1 ORDER BY created_at, id`, aircraftID)
}

func (s *PostgresStore) ListPositionsByStatus(ctx context.Context, status model.PositionStatus) ([]model.InvestmentPosition, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM investment_positions WHERE status = $1 ORDER BY created_at, id`, string(status))
}

func (s *PostgresStore) queryPositions(ctx context.Context, sql string, arg any) ([]model.InvestmentPosition, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.InvestmentPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// --- Rateio transactions ---

// CreateTransaction inserts the transaction and moves operating cash in the
// same database transaction.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *model.Transaction, cashDelta decimal.Decimal) error {
	allocations, err := json.Marshal(tx.Allocations)
	if err != nil {
		return err
	}
	var manual *string
	if len(tx.ManualSplit) > 0 {
		data, err := json.Marshal(tx.ManualSplit)
		if err != nil {
			return err
		}
		m := string(data)
		manual = &m
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	_, err = dbtx.Exec(ctx,
		`INSERT INTO transactions (id, aircraft_id, kind, description, total, transaction_date,
		        automatic, manual_split, allocations, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8::JSONB, $9::JSONB, $10)`,
		tx.ID, tx.AircraftID, string(tx.Kind), tx.Description, tx.Total.String(), tx.Date,
		tx.Automatic, manual, string(allocations), tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.ID, err)
	}
	if err := moveCash(ctx, dbtx, tx.AircraftID, cashDelta); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, aircraftID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, aircraft_id, kind, description, total::TEXT, transaction_date,
		        automatic, manual_split::TEXT, allocations::TEXT, created_at
		 FROM transactions WHERE aircraft_id = $1 ORDER BY created_at, id`, aircraftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var kind, total, allocations string
		var manual *string
		if err := rows.Scan(&tx.ID, &tx.AircraftID, &kind, &tx.Description, &total, &tx.Date,
			&tx.Automatic, &manual, &allocations, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = model.TransactionKind(kind)
		tx.Total = dec(total)
		if err := json.Unmarshal([]byte(allocations), &tx.Allocations); err != nil {
			return nil, fmt.Errorf("decode allocations of %s: %w", tx.ID, err)
		}
		if manual != nil {
			if err := json.Unmarshal([]byte(*manual), &tx.ManualSplit); err != nil {
				return nil, fmt.Errorf("decode manual split of %s: %w", tx.ID, err)
			}
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// --- Ownership ---

func (s *PostgresStore) SetShares(ctx context.Context, t *model.ShareTable) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM ownership_shares WHERE aircraft_id = $1 AND effective_from = $2`,
		t.AircraftID, t.EffectiveFrom); err != nil {
		return err
	}
	for i, sh := range t.Shares {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ownership_shares (aircraft_id, effective_from, ordinal, member_id, percent)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
			t.AircraftID, t.EffectiveFrom, i, sh.MemberID, sh.Percent.String()); err != nil {
			return fmt.Errorf("insert share %s: %w", sh.MemberID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActiveShares(ctx context.Context, aircraftID string, asOf time.Time) ([]model.Share, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id, percent::TEXT
		 FROM ownership_shares
		 WHERE aircraft_id = $1
		   AND effective_from = (SELECT MAX(effective_from) FROM ownership_shares
		                         WHERE aircraft_id = $1 AND effective_from <= $2)
		 ORDER BY ordinal`, aircraftID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []model.Share{}
	for rows.Next() {
		var sh model.Share
		var pct string
		if err := rows.Scan(&sh.MemberID, &pct); err != nil {
			return nil, err
		}
		sh.Percent = dec(pct)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// --- Operating cash and asset ---

func (s *PostgresStore) GetCash(ctx context.Context, aircraftID string) (model.CashAccount, error) {
	acct := model.CashAccount{AircraftID: aircraftID}
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT, updated_at FROM cash_accounts WHERE aircraft_id = $1`, aircraftID).
		Scan(&balance, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return acct, fmt.Errorf("get cash %s: %w", aircraftID, err)
	}
	acct.Balance = dec(balance)
	return acct, nil
}

// moveCash adds a non-zero delta to operating cash inside tx.
func moveCash(ctx context.Context, tx pgx.Tx, aircraftID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO cash_accounts (aircraft_id, balance, updated_at)
		 VALUES ($1, $2::NUMERIC, now())
		 ON CONFLICT (aircraft_id) DO UPDATE
		 SET balance = cash_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
		aircraftID, delta.String())
	if err != nil {
		return fmt.Errorf("adjust cash %s: %w", aircraftID, err)
	}
	return nil
}

func (s *PostgresStore) SetAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (aircraft_id, book_value, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (aircraft_id) DO UPDATE
		 SET book_value = EXCLUDED.book_value, updated_at = EXCLUDED.updated_at`,
		a.AircraftID, a.BookValue.String(), a.UpdatedAt)
	return err
}

func (s *PostgresStore) GetAsset(ctx context.Context, aircraftID string) (model.Asset, error) {
	a := model.Asset{AircraftID: aircraftID}
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT book_value::TEXT, updated_at FROM assets WHERE aircraft_id = $1`, aircraftID).
		Scan(&value, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("get asset %s: %w", aircraftID, err)
	}
	a.BookValue = dec(value)
	return a, nil
}

// --- helpers ---

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func nullDec(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(dec(*s))
}

func nullArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
