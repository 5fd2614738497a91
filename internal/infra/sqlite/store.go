package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tutu-network/talpay/internal/domain"
)

const rateKey = "talpay_to_native_rate"

var _ domain.Store = (*DB)(nil)

// ─── Commit ─────────────────────────────────────────────────────────────────

// Commit writes cs in one transaction. Entity rows are upserts;
// transactions and payments are inserts and fail on a duplicate id.
func (db *DB) Commit(ctx context.Context, cs *domain.Changeset) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	steps := []func(context.Context, *sql.Tx, *domain.Changeset) error{
		putAccounts, putEmployees, putEscrows, putTransactions, putPayments, putAdmins, putRate,
	}
	for _, step := range steps {
		if err := step(ctx, tx, cs); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func putAccounts(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, a := range cs.Accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (identity, native_balance, payroll_balance)
			VALUES (?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET
				native_balance  = excluded.native_balance,
				payroll_balance = excluded.payroll_balance
		`, string(a.Identity), a.NativeBalance, a.PayrollBalance)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", a.Identity, err)
		}
	}
	return nil
}

func putEmployees(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, e := range cs.Employees {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, identity, name, position, salary, wallet_ref, status, join_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name       = excluded.name,
				position   = excluded.position,
				salary     = excluded.salary,
				wallet_ref = excluded.wallet_ref,
				status     = excluded.status
		`, e.ID, string(e.Identity), e.Name, e.Position, e.Salary, e.WalletRef, string(e.Status), e.JoinDate)
		if err != nil {
			return fmt.Errorf("upsert employee %s: %w", e.ID, err)
		}
	}
	return nil
}

func putEscrows(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, c := range cs.Escrows {
		approvals, err := json.Marshal(orEmpty(c.Approvals))
		if err != nil {
			return err
		}
		payees, err := json.Marshal(orEmpty(c.Payees))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrows (id, title, total_amount, funded_amount, employee_count, release_date,
				status, approvals, required_approvals, creator, payees, created_at, released_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				funded_amount = excluded.funded_amount,
				status        = excluded.status,
				approvals     = excluded.approvals,
				released_at   = excluded.released_at
		`, c.ID, c.Title, c.TotalAmount, c.FundedAmount, c.EmployeeCount, c.ReleaseDate,
			string(c.Status), string(approvals), c.RequiredApprovals, string(c.Creator), string(payees),
			c.CreatedAt, c.ReleasedAt)
		if err != nil {
			return fmt.Errorf("upsert escrow %s: %w", c.ID, err)
		}
	}
	return nil
}

func putTransactions(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, t := range cs.Transactions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, type, amount, from_id, to_id, timestamp, status, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, string(t.Type), t.Amount, string(t.From), string(t.To), t.Timestamp, string(t.Status), t.Metadata)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func putPayments(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, p := range cs.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, employee_id, amount, timestamp, escrow_id, transaction_hash, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.EmployeeID, p.Amount, p.Timestamp, p.EscrowID, p.TransactionHash, string(p.Status))
		if err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

func putAdmins(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	for _, id := range cs.AdminsAdded {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO admins (identity) VALUES (?)`, string(id)); err != nil {
			return fmt.Errorf("add admin %s: %w", id, err)
		}
	}
	for _, id := range cs.AdminsRemoved {
		if _, err := tx.ExecContext(ctx, `DELETE FROM admins WHERE identity = ?`, string(id)); err != nil {
			return fmt.Errorf("remove admin %s: %w", id, err)
		}
	}
	return nil
}

func putRate(ctx context.Context, tx *sql.Tx, cs *domain.Changeset) error {
	if cs.Rate == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, rateKey, cs.Rate)
	if err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	return nil
}

// ─── Load ───────────────────────────────────────────────────────────────────

// Load reads all committed state. Audit rows come back in insertion order.
func (db *DB) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	loaders := []func(context.Context, *domain.Snapshot) error{
		db.loadAccounts, db.loadTransactions, db.loadEmployees, db.loadEscrows,
		db.loadPayments, db.loadAdmins, db.loadRate,
	}
	for _, load := range loaders {
		if err := load(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (db *DB) loadAccounts(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `SELECT identity, native_balance, payroll_balance FROM accounts ORDER BY identity`)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.LedgerAccount
		var id string
		if err := rows.Scan(&id, &a.NativeBalance, &a.PayrollBalance); err != nil {
			return err
		}
		a.Identity = domain.Identity(id)
		snap.Accounts = append(snap.Accounts, a)
	}
	return rows.Err()
}

func (db *DB) loadTransactions(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, type, amount, from_id, to_id, timestamp, status, metadata
		FROM transactions ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.TokenTransaction
		var typ, from, to, status string
		if err := rows.Scan(&t.ID, &typ, &t.Amount, &from, &to, &t.Timestamp, &status, &t.Metadata); err != nil {
			return err
		}
		t.Type = domain.TransactionType(typ)
		t.From, t.To = domain.Identity(from), domain.Identity(to)
		t.Status = domain.TxStatus(status)
		snap.Transactions = append(snap.Transactions, t)
	}
	return rows.Err()
}

func (db *DB) loadEmployees(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, identity, name, position, salary, wallet_ref, status, join_date
		FROM employees ORDER BY join_date, id
	`)
	if err != nil {
		return fmt.Errorf("load employees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.Employee
		var identity, status string
		if err := rows.Scan(&e.ID, &identity, &e.Name, &e.Position, &e.Salary, &e.WalletRef, &status, &e.JoinDate); err != nil {
			return err
		}
		e.Identity = domain.Identity(identity)
		e.Status = domain.EmployeeStatus(status)
		snap.Employees = append(snap.Employees, e)
	}
	return rows.Err()
}

func (db *DB) loadEscrows(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, title, total_amount, funded_amount, employee_count, release_date, status,
			approvals, required_approvals, creator, payees, created_at, released_at
		FROM escrows ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("load escrows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.EscrowContract
		var status, approvals, creator, payees string
		if err := rows.Scan(&c.ID, &c.Title, &c.TotalAmount, &c.FundedAmount, &c.EmployeeCount, &c.ReleaseDate,
			&status, &approvals, &c.RequiredApprovals, &creator, &payees, &c.CreatedAt, &c.ReleasedAt); err != nil {
			return err
		}
		c.Status = domain.EscrowStatus(status)
		c.Creator = domain.Identity(creator)
		if err := json.Unmarshal([]byte(approvals), &c.Approvals); err != nil {
			return fmt.Errorf("escrow %s approvals: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(payees), &c.Payees); err != nil {
			return fmt.Errorf("escrow %s payees: %w", c.ID, err)
		}
		if len(c.Payees) == 0 {
			c.Payees = nil
		}
		snap.Escrows = append(snap.Escrows, c)
	}
	return rows.Err()
}

func (db *DB) loadPayments(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, employee_id, amount, timestamp, escrow_id, transaction_hash, status
		FROM payments ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.PaymentRecord
		var status string
		if err := rows.Scan(&p.ID, &p.EmployeeID, &p.Amount, &p.Timestamp, &p.EscrowID, &p.TransactionHash, &status); err != nil {
			return err
		}
		p.Status = domain.PaymentStatus(status)
		snap.Payments = append(snap.Payments, p)
	}
	return rows.Err()
}

func (db *DB) loadAdmins(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := db.db.QueryContext(ctx, `SELECT identity FROM admins ORDER BY identity`)
	if err != nil {
		return fmt.Errorf("load admins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		snap.Admins = append(snap.Admins, domain.Identity(id))
	}
	return rows.Err()
}

func (db *DB) loadRate(ctx context.Context, snap *domain.Snapshot) error {
	err := db.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, rateKey).Scan(&snap.Rate)
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
