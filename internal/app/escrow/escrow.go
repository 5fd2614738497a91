// Package escrow runs the escrow contract lifecycle: create, fund, approve,
// release and cancel.
//
// Each contract has its own mutex. Fund, approve and release hold it for
// their full duration, so check-and-update on one contract is atomic while
// unrelated contracts proceed in parallel.
package escrow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/dsa"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// Distributor pays out a released contract. See payout.Distributor.
type Distributor interface {
	Distribute(ctx context.Context, c domain.EscrowContract, extra *domain.Changeset, onApply func()) ([]domain.PaymentRecord, error)
}

// NewContract is the input to Create.
type NewContract struct {
	Title             string
	TotalAmount       int64
	EmployeeCount     int
	ReleaseDate       int64 // ns since epoch, 0 = none
	RequiredApprovals int
	Payees            []string // optional pinned employee ids
}

type slot struct {
	mu sync.Mutex
	c  domain.EscrowContract
}

// Engine owns every escrow contract.
type Engine struct {
	ledger  *ledger.Ledger
	dist    Distributor
	store   domain.Store
	tracer  *observability.Tracer
	now     func() time.Time
	pending *dsa.DeadlineQueue // open contracts keyed by release date

	mu    sync.RWMutex
	slots map[string]*slot
	order []string
}

// New creates an engine. tracer may be nil.
func New(l *ledger.Ledger, dist Distributor, store domain.Store, tracer *observability.Tracer) *Engine {
	return &Engine{
		ledger:  l,
		dist:    dist,
		store:   store,
		tracer:  tracer,
		now:     time.Now,
		pending: dsa.NewDeadlineQueue(),
		slots:   make(map[string]*slot),
	}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Restore loads committed contracts.
func (e *Engine) Restore(snap *domain.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := append([]domain.EscrowContract(nil), snap.Escrows...)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].CreatedAt < cs[j].CreatedAt })
	for _, c := range cs {
		e.slots[c.ID] = &slot{c: c.Clone()}
		e.order = append(e.order, c.ID)
		e.track(c)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Create registers a Pending contract owned by creator.
func (e *Engine) Create(ctx context.Context, creator domain.Identity, in NewContract) (domain.EscrowContract, error) {
	if err := validateNew(in); err != nil {
		return domain.EscrowContract{}, err
	}
	c := domain.EscrowContract{
		ID:                uuid.NewString(),
		Title:             strings.TrimSpace(in.Title),
		TotalAmount:       in.TotalAmount,
		EmployeeCount:     in.EmployeeCount,
		ReleaseDate:       in.ReleaseDate,
		Status:            domain.EscrowPending,
		Approvals:         []domain.Identity{},
		RequiredApprovals: in.RequiredApprovals,
		Creator:           creator,
		Payees:            append([]string(nil), in.Payees...),
		CreatedAt:         domain.Timestamp(e.now()),
	}
	if err := domain.Commit(ctx, e.store, "create escrow", &domain.Changeset{Escrows: []domain.EscrowContract{c}}); err != nil {
		return domain.EscrowContract{}, err
	}

	e.mu.Lock()
	e.slots[c.ID] = &slot{c: c}
	e.order = append(e.order, c.ID)
	e.track(c)
	e.mu.Unlock()

	observability.EscrowTransitions.WithLabelValues(string(domain.EscrowPending)).Inc()
	logger.InfoCtx(ctx, "escrow created", zap.String("escrow", c.ID), zap.Int64("total", c.TotalAmount))
	return c.Clone(), nil
}

func validateNew(in NewContract) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return domain.Errorf(domain.KindInvalidInput, "title is required")
	case in.TotalAmount <= 0:
		return domain.Errorf(domain.KindInvalidAmount, "total amount must be positive, got %d", in.TotalAmount)
	case in.EmployeeCount <= 0:
		return domain.Errorf(domain.KindInvalidInput, "employee count must be positive, got %d", in.EmployeeCount)
	case in.RequiredApprovals < 1:
		return domain.Errorf(domain.KindInvalidInput, "required approvals must be at least 1, got %d", in.RequiredApprovals)
	case in.TotalAmount < int64(in.EmployeeCount):
		return domain.Errorf(domain.KindInvalidAmount, "total %d cannot pay %d employees at least one unit each", in.TotalAmount, in.EmployeeCount)
	case in.ReleaseDate < 0:
		return domain.Errorf(domain.KindInvalidInput, "release date must not be negative")
	}
	if len(in.Payees) == 0 {
		return nil
	}
	if len(in.Payees) != in.EmployeeCount {
		return domain.Errorf(domain.KindInvalidInput, "%d payees given for %d employees", len(in.Payees), in.EmployeeCount)
	}
	seen := make(map[string]struct{}, len(in.Payees))
	for _, p := range in.Payees {
		if _, dup := seen[p]; dup || p == "" {
			return domain.Errorf(domain.KindInvalidInput, "payee list has a blank or repeated id %q", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Fund moves amount payroll units from funder into the contract's escrow
// account. Reaching the total activates the contract in the same commit.
func (e *Engine) Fund(ctx context.Context, funder domain.Identity, id string, amount int64) (domain.EscrowContract, error) {
	if funder.IsZero() || funder.IsEscrowAccount() {
		return domain.EscrowContract{}, domain.Errorf(domain.KindUnauthorized, "invalid funder %q", funder)
	}
	s, err := e.slot(id)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	ctx, span := e.tracer.StartSpan(ctx, "escrow.fund", map[string]string{"escrow": id})

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.c.Clone()
	if err := next.ApplyFunding(amount); err != nil {
		e.tracer.EndSpan(span, err)
		return domain.EscrowContract{}, err
	}

	acct := domain.EscrowAccount(id)
	b := e.ledger.Begin(funder, acct)
	defer b.Close(ctx)
	if _, err := b.Transfer(domain.TxFundEscrow, funder, acct, amount, "escrow="+id); err != nil {
		e.tracer.EndSpan(span, err)
		return domain.EscrowContract{}, err
	}
	err = b.Commit(ctx, "fund escrow", &domain.Changeset{Escrows: []domain.EscrowContract{next}}, func() {
		prev := s.c.Status
		s.c = next
		observability.EscrowFunding.Add(float64(amount))
		if prev != next.Status {
			observability.EscrowTransitions.WithLabelValues(string(next.Status)).Inc()
		}
	})
	e.tracer.EndSpan(span, err)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	logger.InfoCtx(ctx, "escrow funded",
		zap.String("escrow", id), zap.Int64("amount", amount), zap.String("status", string(next.Status)))
	return next.Clone(), nil
}

// Approve records approver's vote. The contract must be Active.
// The caller has already checked that approver is an admin.
func (e *Engine) Approve(ctx context.Context, approver domain.Identity, id string) (domain.EscrowContract, error) {
	s, err := e.slot(id)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c.Status != domain.EscrowActive {
		return domain.EscrowContract{}, domain.Errorf(domain.KindInvalidState, "escrow %s is %s, approvals need Active", id, s.c.Status)
	}
	if s.c.HasApproved(approver) {
		return domain.EscrowContract{}, domain.Errorf(domain.KindDuplicateApproval, "%s already approved escrow %s", approver, id)
	}
	next := s.c.Clone()
	next.Approvals = append(next.Approvals, approver)
	if err := domain.Commit(ctx, e.store, "approve escrow", &domain.Changeset{Escrows: []domain.EscrowContract{next}}); err != nil {
		return domain.EscrowContract{}, err
	}
	s.c = next
	logger.InfoCtx(ctx, "escrow approved",
		zap.String("escrow", id), zap.Int("approvals", len(next.Approvals)), zap.Int("required", next.RequiredApprovals))
	return next.Clone(), nil
}

// Release distributes a fully approved Active contract and marks it
// Released. On failure the contract stays Active and nothing is paid.
func (e *Engine) Release(ctx context.Context, id string) ([]domain.PaymentRecord, error) {
	s, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	ctx, span := e.tracer.StartSpan(ctx, "escrow.release", map[string]string{"escrow": id})

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := e.release(ctx, s)
	e.tracer.EndSpan(span, err)
	return records, err
}

func (e *Engine) release(ctx context.Context, s *slot) ([]domain.PaymentRecord, error) {
	c := s.c
	if c.Status != domain.EscrowActive {
		return nil, domain.Errorf(domain.KindInvalidState, "escrow %s is %s, release needs Active", c.ID, c.Status)
	}
	if !c.QuorumReached() {
		return nil, domain.Errorf(domain.KindInvalidState, "escrow %s has %d of %d approvals", c.ID, len(c.Approvals), c.RequiredApprovals)
	}

	next := c.Clone()
	if err := next.TransitionTo(domain.EscrowReleased); err != nil {
		return nil, err
	}
	next.ReleasedAt = domain.Timestamp(e.now())

	records, err := e.dist.Distribute(ctx, c.Clone(), &domain.Changeset{Escrows: []domain.EscrowContract{next}}, func() {
		s.c = next
		e.pending.Remove(c.ID)
		observability.EscrowTransitions.WithLabelValues(string(domain.EscrowReleased)).Inc()
	})
	if err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "escrow released", zap.String("escrow", c.ID), zap.Int("payments", len(records)))
	return records, nil
}

// Cancel moves an unfunded Pending contract to Cancelled. Funded contracts
// have no refund path and are rejected.
func (e *Engine) Cancel(ctx context.Context, id string) (domain.EscrowContract, error) {
	s, err := e.slot(id)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c.Status == domain.EscrowPending && s.c.FundedAmount > 0 {
		return domain.EscrowContract{}, domain.Errorf(domain.KindInvalidState,
			"escrow %s holds %d funded units and cannot be cancelled without a refund", id, s.c.FundedAmount)
	}
	next := s.c.Clone()
	if err := next.TransitionTo(domain.EscrowCancelled); err != nil {
		return domain.EscrowContract{}, err
	}
	if err := domain.Commit(ctx, e.store, "cancel escrow", &domain.Changeset{Escrows: []domain.EscrowContract{next}}); err != nil {
		return domain.EscrowContract{}, err
	}
	s.c = next
	e.pending.Remove(id)
	observability.EscrowTransitions.WithLabelValues(string(domain.EscrowCancelled)).Inc()
	logger.InfoCtx(ctx, "escrow cancelled", zap.String("escrow", id))
	return next.Clone(), nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a snapshot of contract id.
func (e *Engine) Get(id string) (domain.EscrowContract, error) {
	s, err := e.slot(id)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Clone(), nil
}

// List returns every contract in creation order.
func (e *Engine) List() []domain.EscrowContract {
	e.mu.RLock()
	slots := make([]*slot, 0, len(e.order))
	for _, id := range e.order {
		slots = append(slots, e.slots[id])
	}
	e.mu.RUnlock()

	out := make([]domain.EscrowContract, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.c.Clone())
		s.mu.Unlock()
	}
	return out
}

// CountByStatus returns the number of contracts per status.
func (e *Engine) CountByStatus() map[domain.EscrowStatus]int {
	out := make(map[domain.EscrowStatus]int, 4)
	for _, c := range e.List() {
		out[c.Status]++
	}
	return out
}

// Overdue returns open contracts whose release date is before now,
// earliest first.
func (e *Engine) Overdue(now time.Time) []domain.EscrowContract {
	ts := domain.Timestamp(now)
	var out []domain.EscrowContract
	for _, it := range e.pending.Due(ts) {
		c, err := e.Get(it.Key)
		if err != nil || !c.Overdue(ts) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// NextRelease returns the open contract with the earliest release date.
func (e *Engine) NextRelease() (id string, at time.Time, ok bool) {
	it, ok := e.pending.Peek()
	if !ok {
		return "", time.Time{}, false
	}
	return it.Key, time.Unix(0, it.Deadline), true
}

func (e *Engine) slot(id string) (*slot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.slots[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "escrow %s not found", id)
	}
	return s, nil
}

// track queues open contracts that carry a release date.
func (e *Engine) track(c domain.EscrowContract) {
	if c.ReleaseDate > 0 && !c.Status.Terminal() {
		e.pending.Push(c.ID, c.ReleaseDate)
	}
}

