/*
Package sqlite provides a SQLite-backed vesting.TxStore.

PURPOSE:
  Persists plans, beneficiaries, escrow counters and the token ledger in one
  database, so a state transition and the token movement it triggers commit
  in the same SQL transaction.

KEY TABLES:
  plans:          Append-only plan templates (ids from AUTOINCREMENT)
  beneficiaries:  One row per address, upserted
  escrows:        Withdrawn / returned counters per beneficiary
  transactions:   Immutable token ledger
  delegations:    Staking delegations of escrow tokens
  bounties:       Accrued, unclaimed staking rewards

APPEND-ONLY ENFORCEMENT:
  Triggers abort any UPDATE or DELETE on plans and transactions.

AMOUNTS:
  Stored as base-10 TEXT. Token amounts can exceed 64 bits.

CONCURRENCY:
  The pool is limited to one connection (required for ":memory:" and
  matches SQLite's single writer). Writes are serialized by a mutex. Code
  running inside WithTx or Atomic must only use the Store it is handed: the
  root Store would wait for the connection the transaction holds.

MIGRATION:
  Versioned migrations (golang-migrate, embedded SQL) run on New.

USAGE:
  store, err := sqlite.New("./data/vesting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - vesting/store.go: interface definitions
  - store/memory: in-memory implementation for tests
  - migrations/files: schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/store/sqlite/migrations"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// Store implements vesting.TxStore and staking.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var (
	_ vesting.TxStore = (*Store)(nil)
	_ staking.TxStore = (*Store)(nil)
)

// New opens the database at dbPath and migrates it to the latest schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

// Open opens and configures a connection without migrating.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle (migrations, diagnostics).
func (s *Store) DB() *sql.DB { return s.db }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(vesting.Store) error) error {
	return s.inTx(ctx, func(q *queries) error { return fn(q) })
}

// WithStakingTx executes fn within a database transaction.
func (s *Store) WithStakingTx(ctx context.Context, fn func(staking.Store) error) error {
	return s.inTx(ctx, func(q *queries) error { return fn(q) })
}

// Atomic runs a ledger primitive in its own transaction.
func (s *Store) Atomic(ctx context.Context, fn func(token.Store) error) error {
	return s.inTx(ctx, func(q *queries) error { return fn(q) })
}

func (s *Store) inTx(ctx context.Context, fn func(*queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Writes outside an explicit transaction still take the writer lock.

func (s *Store) AppendTransaction(ctx context.Context, tx token.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendTransaction(ctx, tx)
}

func (s *Store) AppendPlan(ctx context.Context, plan vesting.Plan) (vesting.PlanID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendPlan(ctx, plan)
}

func (s *Store) SaveBeneficiary(ctx context.Context, b vesting.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveBeneficiary(ctx, b)
}

func (s *Store) SaveEscrow(ctx context.Context, e vesting.EscrowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveEscrow(ctx, e)
}

func (s *Store) AppendDelegation(ctx context.Context, d staking.Delegation) (staking.DelegationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendDelegation(ctx, d)
}

func (s *Store) SetDelegationState(ctx context.Context, id staking.DelegationID, st staking.DelegationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SetDelegationState(ctx, id, st)
}

func (s *Store) SaveBounty(ctx context.Context, validator staking.ValidatorID, claimant token.Address, amount token.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveBounty(ctx, validator, claimant, amount)
}

// =============================================================================
// QUERIES - Shared by the root store and transaction views
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

var (
	_ vesting.Store = (*queries)(nil)
	_ staking.Store = (*queries)(nil)
)

// Atomic on a transaction view runs fn in the enclosing transaction.
func (qs *queries) Atomic(_ context.Context, fn func(token.Store) error) error {
	return fn(qs)
}

func (qs *queries) AppendTransaction(ctx context.Context, tx token.Transaction) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO transactions (id, tx_type, from_address, to_address, amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.Type), string(tx.From), string(tx.To),
		tx.Amount.String(), nullString(tx.Reason), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (qs *queries) LoadTransactions(ctx context.Context, addr token.Address) ([]token.Transaction, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, tx_type, from_address, to_address, amount, reason, created_at
		FROM transactions
		WHERE from_address = ? OR to_address = ?
		ORDER BY seq ASC`, string(addr), string(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []token.Transaction
	for rows.Next() {
		var (
			tx                        token.Transaction
			id, typ, from, to, amount string
			reason                    sql.NullString
			createdAt                 string
		)
		if err := rows.Scan(&id, &typ, &from, &to, &amount, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = token.TransactionID(id)
		tx.Type = token.TransactionType(typ)
		tx.From = token.Address(from)
		tx.To = token.Address(to)
		tx.Reason = reason.String
		if tx.Amount, err = token.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", id, err)
		}
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", id, err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// PLANS
// =============================================================================

func (qs *queries) AppendPlan(ctx context.Context, plan vesting.Plan) (vesting.PlanID, error) {
	res, err := qs.q.ExecContext(ctx, `
		INSERT INTO plans (cliff_months, total_duration_months, interval_unit, interval_length,
		                   delegation_allowed, terminable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.CliffMonths, plan.TotalDurationMonths, string(plan.IntervalUnit), plan.IntervalLength,
		plan.DelegationAllowed, plan.Terminable, formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return vesting.PlanID(id), nil
}

const planColumns = `id, cliff_months, total_duration_months, interval_unit, interval_length, delegation_allowed, terminable`

func (qs *queries) GetPlan(ctx context.Context, id vesting.PlanID) (*vesting.Plan, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, int64(id))
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (qs *queries) ListPlans(ctx context.Context) ([]vesting.Plan, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var result []vesting.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (vesting.Plan, error) {
	var (
		p    vesting.Plan
		id   int64
		unit string
	)
	err := row.Scan(&id, &p.CliffMonths, &p.TotalDurationMonths, &unit, &p.IntervalLength,
		&p.DelegationAllowed, &p.Terminable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan plan: %w", err)
	}
	p.ID = vesting.PlanID(id)
	p.IntervalUnit = vesting.TimeUnit(unit)
	return p, nil
}

// =============================================================================
// BENEFICIARIES
// =============================================================================

func (qs *queries) SaveBeneficiary(ctx context.Context, b vesting.Beneficiary) error {
	var terminatedAt sql.NullString
	if !b.TerminatedAt.IsZero() {
		terminatedAt = sql.NullString{String: formatTime(b.TerminatedAt), Valid: true}
	}
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO beneficiaries (address, plan_id, start_month, full_amount, cliff_amount,
		                           status, escrow_address, terminated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			status = excluded.status,
			terminated_at = excluded.terminated_at`,
		string(b.Address), int64(b.PlanID), formatTime(b.StartMonth), b.FullAmount.String(),
		b.CliffAmount.String(), string(b.Status), string(b.EscrowAddress), terminatedAt,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save beneficiary: %w", err)
	}
	return nil
}

const beneficiaryColumns = `address, plan_id, start_month, full_amount, cliff_amount, status, escrow_address, terminated_at, created_at`

func (qs *queries) GetBeneficiary(ctx context.Context, addr token.Address) (*vesting.Beneficiary, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE address = ?`, string(addr))
	b, err := scanBeneficiary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (qs *queries) ListBeneficiaries(ctx context.Context) ([]vesting.Beneficiary, error) {
	rows, err := qs.q.QueryContext(ctx, `SELECT `+beneficiaryColumns+` FROM beneficiaries ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query beneficiaries: %w", err)
	}
	defer rows.Close()

	var result []vesting.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBeneficiary(row scanner) (vesting.Beneficiary, error) {
	var (
		b                                        vesting.Beneficiary
		addr, start, full, cliff, status, escrow string
		planID                                   int64
		terminatedAt                             sql.NullString
		createdAt                                string
	)
	err := row.Scan(&addr, &planID, &start, &full, &cliff, &status, &escrow, &terminatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan beneficiary: %w", err)
	}

	b.Address = token.Address(addr)
	b.PlanID = vesting.PlanID(planID)
	b.Status = vesting.Status(status)
	b.EscrowAddress = token.Address(escrow)
	if b.StartMonth, err = parseTime(start); err != nil {
		return b, err
	}
	if b.FullAmount, err = token.ParseAmount(full); err != nil {
		return b, err
	}
	if b.CliffAmount, err = token.ParseAmount(cliff); err != nil {
		return b, err
	}
	if terminatedAt.Valid {
		if b.TerminatedAt, err = parseTime(terminatedAt.String); err != nil {
			return b, err
		}
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, err
	}
	return b, nil
}

// =============================================================================
// ESCROWS
// =============================================================================

func (qs *queries) SaveEscrow(ctx context.Context, e vesting.EscrowState) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO escrows (beneficiary, address, withdrawn, returned, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(beneficiary) DO UPDATE SET
			withdrawn = excluded.withdrawn,
			returned = excluded.returned`,
		string(e.Beneficiary), string(e.Address), e.Withdrawn.String(), e.Returned.String(),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save escrow: %w", err)
	}
	return nil
}

func (qs *queries) GetEscrow(ctx context.Context, beneficiary token.Address) (*vesting.EscrowState, error) {
	var (
		e                                  vesting.EscrowState
		addr, withdrawn, returned, created string
	)
	err := qs.q.QueryRowContext(ctx, `
		SELECT address, withdrawn, returned, created_at FROM escrows WHERE beneficiary = ?`,
		string(beneficiary),
	).Scan(&addr, &withdrawn, &returned, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}

	e.Address = token.Address(addr)
	e.Beneficiary = beneficiary
	if e.Withdrawn, err = token.ParseAmount(withdrawn); err != nil {
		return nil, err
	}
	if e.Returned, err = token.ParseAmount(returned); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// DELEGATIONS
// =============================================================================

func (qs *queries) AppendDelegation(ctx context.Context, d staking.Delegation) (staking.DelegationID, error) {
	res, err := qs.q.ExecContext(ctx, `
		INSERT INTO delegations (delegator, validator, amount, period_months, info, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(d.Delegator), int64(d.Validator), d.Amount.String(), d.PeriodMonths,
		nullString(d.Info), string(d.State), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert delegation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return staking.DelegationID(id), nil
}

const delegationColumns = `id, delegator, validator, amount, period_months, info, state`

func (qs *queries) GetDelegation(ctx context.Context, id staking.DelegationID) (*staking.Delegation, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, int64(id))
	d, err := scanDelegation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (qs *queries) SetDelegationState(ctx context.Context, id staking.DelegationID, st staking.DelegationState) error {
	res, err := qs.q.ExecContext(ctx, `UPDATE delegations SET state = ? WHERE id = ?`, string(st), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update delegation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", staking.ErrDelegationNotFound, id)
	}
	return nil
}

func (qs *queries) ListDelegations(ctx context.Context, delegator token.Address) ([]staking.Delegation, error) {
	rows, err := qs.q.QueryContext(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE delegator = ? ORDER BY id ASC`, string(delegator))
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}
	defer rows.Close()

	var result []staking.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanDelegation(row scanner) (staking.Delegation, error) {
	var (
		d                        staking.Delegation
		id, validator            int64
		delegator, amount, state string
		info                     sql.NullString
	)
	err := row.Scan(&id, &delegator, &validator, &amount, &d.PeriodMonths, &info, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("failed to scan delegation: %w", err)
	}
	d.ID = staking.DelegationID(id)
	d.Delegator = token.Address(delegator)
	d.Validator = staking.ValidatorID(validator)
	d.Info = info.String
	d.State = staking.DelegationState(state)
	if d.Amount, err = token.ParseAmount(amount); err != nil {
		return d, fmt.Errorf("delegation %d: %w", id, err)
	}
	return d, nil
}

// =============================================================================
// BOUNTIES
// =============================================================================

func (qs *queries) GetBounty(ctx context.Context, validator staking.ValidatorID, claimant token.Address) (token.Amount, error) {
	var amount string
	err := qs.q.QueryRowContext(ctx,
		`SELECT amount FROM bounties WHERE validator = ? AND claimant = ?`, int64(validator), string(claimant),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Zero, nil
	}
	if err != nil {
		return token.Zero, fmt.Errorf("failed to get bounty: %w", err)
	}
	return token.ParseAmount(amount)
}

func (qs *queries) SaveBounty(ctx context.Context, validator staking.ValidatorID, claimant token.Address, amount token.Amount) error {
	var err error
	if amount.IsPositive() {
		_, err = qs.q.ExecContext(ctx, `
			INSERT INTO bounties (validator, claimant, amount) VALUES (?, ?, ?)
			ON CONFLICT(validator, claimant) DO UPDATE SET amount = excluded.amount`,
			int64(validator), string(claimant), amount.String())
	} else {
		_, err = qs.q.ExecContext(ctx,
			`DELETE FROM bounties WHERE validator = ? AND claimant = ?`, int64(validator), string(claimant))
	}
	if err != nil {
		return fmt.Errorf("failed to save bounty: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// IsAppendOnlyViolation reports an UPDATE or DELETE rejected by the
// append-only triggers.
func IsAppendOnlyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "append-only")
}
