package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Store is the durable backing for every component. Components keep the
// authoritative working set in memory and write through on each mutation.
type Store interface {
	// Load returns all committed state, used once at startup.
	Load(ctx context.Context) (*Snapshot, error)

	// Commit applies cs atomically: either every row is written or none is.
	Commit(ctx context.Context, cs *Changeset) error
}

// Snapshot is the full committed state.
type Snapshot struct {
	Accounts     []LedgerAccount
	Transactions []TokenTransaction
	Employees    []Employee
	Escrows      []EscrowContract
	Payments     []PaymentRecord
	Admins       []Identity
	Rate         int64 // 0 when never set
}

// Changeset is the unit of durable write. Entity slices are upserts except
// Transactions and Payments, which are append-only.
type Changeset struct {
	Accounts      []LedgerAccount
	Transactions  []TokenTransaction
	Employees     []Employee
	Escrows       []EscrowContract
	Payments      []PaymentRecord
	AdminsAdded   []Identity
	AdminsRemoved []Identity
	Rate          int64 // 0 = unchanged
}

// Merge appends o's rows to c.
func (c *Changeset) Merge(o *Changeset) {
	if o == nil {
		return
	}
	c.Accounts = append(c.Accounts, o.Accounts...)
	c.Transactions = append(c.Transactions, o.Transactions...)
	c.Employees = append(c.Employees, o.Employees...)
	c.Escrows = append(c.Escrows, o.Escrows...)
	c.Payments = append(c.Payments, o.Payments...)
	c.AdminsAdded = append(c.AdminsAdded, o.AdminsAdded...)
	c.AdminsRemoved = append(c.AdminsRemoved, o.AdminsRemoved...)
	if o.Rate != 0 {
		c.Rate = o.Rate
	}
}

// Empty reports whether the changeset writes nothing.
func (c *Changeset) Empty() bool {
	return c == nil || (len(c.Accounts) == 0 && len(c.Transactions) == 0 &&
		len(c.Employees) == 0 && len(c.Escrows) == 0 && len(c.Payments) == 0 &&
		len(c.AdminsAdded) == 0 && len(c.AdminsRemoved) == 0 && c.Rate == 0)
}

// Commit writes cs through s. A nil store keeps state in memory only.
// Store faults come back as InternalError.
func Commit(ctx context.Context, s Store, op string, cs *Changeset) error {
	if s == nil || cs.Empty() {
		return nil
	}
	if err := s.Commit(ctx, cs); err != nil {
		return Internal(op, err)
	}
	return nil
}
