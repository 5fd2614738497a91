// Package payout executes the release of a funded escrow into per-employee
// payments. A distribution is one ledger batch: every share moves and every
// PaymentRecord is written in a single store commit, or nothing is.
package payout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// Roster is the read side of the employee registry.
type Roster interface {
	ActiveRoster() []domain.Employee
	Lookup(ids []string) ([]domain.Employee, error)
}

// FaultFunc runs before paying the employee at index i. A non-nil error
// aborts the distribution (tests use it to simulate a mid-batch fault).
type FaultFunc func(i int, e domain.Employee) error

// Config controls the distributor.
type Config struct {
	Policy SplitPolicy
}

// Distributor pays escrow funds out to employees and keeps the payment
// record arena.
type Distributor struct {
	ledger *ledger.Ledger
	roster Roster
	policy SplitPolicy
	tracer *observability.Tracer
	now    func() time.Time
	fault  FaultFunc

	mu         sync.RWMutex
	payments   []domain.PaymentRecord
	byEmployee map[string][]int
	byEscrow   map[string][]int
}

// New creates a distributor. tracer may be nil.
func New(cfg Config, l *ledger.Ledger, roster Roster, tracer *observability.Tracer) *Distributor {
	if cfg.Policy == "" {
		cfg.Policy = SplitEqual
	}
	return &Distributor{
		ledger:     l,
		roster:     roster,
		policy:     cfg.Policy,
		tracer:     tracer,
		now:        time.Now,
		byEmployee: make(map[string][]int),
		byEscrow:   make(map[string][]int),
	}
}

// SetClock overrides the time source (tests).
func (d *Distributor) SetClock(now func() time.Time) { d.now = now }

// SetFault installs a fault hook (tests).
func (d *Distributor) SetFault(f FaultFunc) { d.fault = f }

// Policy returns the configured split policy.
func (d *Distributor) Policy() SplitPolicy { return d.policy }

// Restore loads committed payment records.
func (d *Distributor) Restore(snap *domain.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range snap.Payments {
		d.index(p)
	}
}

// Payees resolves who an escrow pays: its pinned list, every one of which
// must still be active, or else the active roster, which must match the
// contract's employee count.
func (d *Distributor) Payees(c domain.EscrowContract) ([]domain.Employee, error) {
	if len(c.Payees) > 0 {
		pinned, err := d.roster.Lookup(c.Payees)
		if err != nil {
			return nil, err
		}
		for _, e := range pinned {
			if e.Status != domain.EmployeeActive {
				return nil, domain.Errorf(domain.KindInvalidState,
					"escrow %s pins employee %s, which is %s", c.ID, e.ID, e.Status)
			}
		}
		return pinned, nil
	}
	roster := d.roster.ActiveRoster()
	if len(roster) != c.EmployeeCount {
		return nil, domain.Errorf(domain.KindInvalidState,
			"escrow %s expects %d employees, active roster has %d", c.ID, c.EmployeeCount, len(roster))
	}
	return roster, nil
}

// Distribute pays out the escrow account of c. extra is committed in the
// same store transaction (the escrow's Released row), and onApply runs once
// the payments are published. On any failure nothing is paid and the
// error is PartialFailure listing every payee.
func (d *Distributor) Distribute(ctx context.Context, c domain.EscrowContract, extra *domain.Changeset, onApply func()) ([]domain.PaymentRecord, error) {
	ctx, span := d.tracer.StartSpan(ctx, "payout.distribute", map[string]string{"escrow": c.ID})
	start := time.Now()

	records, err := d.distribute(ctx, c, extra, onApply)

	d.tracer.EndSpan(span, err)
	observability.DistributionDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		observability.DistributionFailures.Inc()
		logger.ErrorCtx(ctx, err, zap.String("escrow", c.ID))
		return nil, err
	}
	observability.DistributionPayees.Observe(float64(len(records)))
	logger.InfoCtx(ctx, "escrow distributed", zap.String("escrow", c.ID), zap.Int("payees", len(records)))
	return records, nil
}

func (d *Distributor) distribute(ctx context.Context, c domain.EscrowContract, extra *domain.Changeset, onApply func()) ([]domain.PaymentRecord, error) {
	payees, err := d.Payees(c)
	if err != nil {
		return nil, err
	}
	shares, err := Shares(d.policy, c.TotalAmount, payees)
	if err != nil {
		return nil, err
	}

	src := domain.EscrowAccount(c.ID)
	ids := make([]domain.Identity, 0, len(payees)+1)
	ids = append(ids, src)
	for _, e := range payees {
		ids = append(ids, e.Identity)
	}

	b := d.ledger.Begin(ids...)
	defer b.Close(ctx)

	abort := func(cause error) error {
		unpaid := make([]string, len(payees))
		for i, e := range payees {
			unpaid[i] = e.ID
		}
		b.Fail(domain.TxPayrollDistribution, src, "", c.TotalAmount,
			fmt.Sprintf("escrow=%s unpaid=%s", c.ID, strings.Join(unpaid, ",")))
		return domain.PartialFailure(unpaid, cause)
	}

	ts := domain.Timestamp(d.now())
	records := make([]domain.PaymentRecord, 0, len(payees))
	for i, e := range payees {
		if d.fault != nil {
			if err := d.fault(i, e); err != nil {
				return nil, abort(err)
			}
		}
		tx, err := b.Transfer(domain.TxPayrollDistribution, src, e.Identity, shares[i],
			fmt.Sprintf("escrow=%s employee=%s", c.ID, e.ID))
		if err != nil {
			return nil, abort(err)
		}
		records = append(records, domain.PaymentRecord{
			ID:              uuid.NewString(),
			EmployeeID:      e.ID,
			Amount:          shares[i],
			Timestamp:       ts,
			EscrowID:        c.ID,
			TransactionHash: transactionHash(tx, e.ID),
			Status:          domain.PaymentCompleted,
		})
	}

	cs := &domain.Changeset{Payments: records}
	cs.Merge(extra)
	err = b.Commit(ctx, "distribute", cs, func() {
		d.mu.Lock()
		for _, r := range records {
			d.index(r)
		}
		d.mu.Unlock()
		if onApply != nil {
			onApply()
		}
	})
	if err != nil {
		return nil, abort(err)
	}
	return records, nil
}

// transactionHash binds a payment to the ledger transaction that moved it.
func transactionHash(tx domain.TokenTransaction, employeeID string) string {
	return domain.SHA256Hex([]byte(fmt.Sprintf("%s|%s|%s|%s|%d|%d", tx.ID, tx.From, tx.To, employeeID, tx.Amount, tx.Timestamp)))
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Payments returns every payment record, oldest first.
func (d *Distributor) Payments() []domain.PaymentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.PaymentRecord, len(d.payments))
	copy(out, d.payments)
	return out
}

// ByEmployee returns the payments received by employeeID.
func (d *Distributor) ByEmployee(employeeID string) []domain.PaymentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collect(d.byEmployee[employeeID])
}

// ByEscrow returns the payments made from escrowID.
func (d *Distributor) ByEscrow(escrowID string) []domain.PaymentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collect(d.byEscrow[escrowID])
}

// Count returns the number of payment records.
func (d *Distributor) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.payments)
}

func (d *Distributor) collect(idx []int) []domain.PaymentRecord {
	out := make([]domain.PaymentRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, d.payments[i])
	}
	return out
}

// index must be called with mu held.
func (d *Distributor) index(p domain.PaymentRecord) {
	i := len(d.payments)
	d.payments = append(d.payments, p)
	d.byEmployee[p.EmployeeID] = append(d.byEmployee[p.EmployeeID], i)
	d.byEscrow[p.EscrowID] = append(d.byEscrow[p.EscrowID], i)
}
