package escrow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/app/registry"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/domain/storetest"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

var epoch = time.Unix(1_700_000_000, 0)

type harness struct {
	engine *Engine
	ledger *ledger.Ledger
	reg    *registry.Registry
	dist   *payout.Distributor
	store  *storetest.Store
	tracer *observability.Tracer
}

func newHarness(t *testing.T, employees int) *harness {
	t.Helper()
	st := storetest.New()
	l := ledger.New(ledger.DefaultConfig(), st)
	reg := registry.New(st)
	tr := observability.NewTracer(observability.DefaultTracerConfig())
	dist := payout.New(payout.Config{}, l, reg, tr)
	e := New(l, dist, st, tr)
	e.SetClock(func() time.Time { return epoch })

	ctx := context.Background()
	for i := 0; i < employees; i++ {
		_, err := reg.Add(ctx, registry.NewEmployee{
			Identity: domain.Identity("emp-" + string(rune('a'+i))),
			Name:     "Employee " + string(rune('A'+i)),
			Salary:   1000,
			Status:   domain.EmployeeActive,
		})
		require.NoError(t, err)
	}
	_, err := l.Mint(ctx, "treasury", 1_000_000, domain.Payroll)
	require.NoError(t, err)
	return &harness{engine: e, ledger: l, reg: reg, dist: dist, store: st, tracer: tr}
}

func (h *harness) create(t *testing.T, total int64, count, approvals int) domain.EscrowContract {
	t.Helper()
	c, err := h.engine.Create(context.Background(), "root", NewContract{
		Title: "March payroll", TotalAmount: total, EmployeeCount: count, RequiredApprovals: approvals,
	})
	require.NoError(t, err)
	return c
}

// ─── Create ─────────────────────────────────────────────────────────────────

func TestCreate_Initializes(t *testing.T) {
	h := newHarness(t, 0)
	c := h.create(t, 1000, 2, 2)

	assert.Equal(t, domain.EscrowPending, c.Status)
	assert.Zero(t, c.FundedAmount)
	assert.Empty(t, c.Approvals)
	assert.Equal(t, domain.Identity("root"), c.Creator)
	assert.Equal(t, domain.Timestamp(epoch), c.CreatedAt)
	assert.Len(t, h.store.Last().Escrows, 1)
}

func TestCreate_Rejections(t *testing.T) {
	h := newHarness(t, 0)
	tests := []struct {
		name string
		in   NewContract
		want error
	}{
		{"no title", NewContract{TotalAmount: 10, EmployeeCount: 1, RequiredApprovals: 1}, domain.ErrInvalidInput},
		{"zero total", NewContract{Title: "x", EmployeeCount: 1, RequiredApprovals: 1}, domain.ErrInvalidAmount},
		{"zero employees", NewContract{Title: "x", TotalAmount: 10, RequiredApprovals: 1}, domain.ErrInvalidInput},
		{"zero approvals", NewContract{Title: "x", TotalAmount: 10, EmployeeCount: 1}, domain.ErrInvalidInput},
		{"total below headcount", NewContract{Title: "x", TotalAmount: 2, EmployeeCount: 3, RequiredApprovals: 1}, domain.ErrInvalidAmount},
		{"payee count mismatch", NewContract{Title: "x", TotalAmount: 10, EmployeeCount: 2, RequiredApprovals: 1, Payees: []string{"a"}}, domain.ErrInvalidInput},
		{"repeated payee", NewContract{Title: "x", TotalAmount: 10, EmployeeCount: 2, RequiredApprovals: 1, Payees: []string{"a", "a"}}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Create(context.Background(), "root", tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.engine.List())
}

// ─── Scenario: full lifecycle ───────────────────────────────────────────────

func TestLifecycle_FundApproveRelease(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	c := h.create(t, 1000, 2, 2)

	got, err := h.engine.Fund(ctx, "treasury", c.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowActive, got.Status)
	assert.Equal(t, int64(1000), h.ledger.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)

	_, err = h.engine.Approve(ctx, "admin-1", c.ID)
	require.NoError(t, err)
	_, err = h.engine.Release(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState, "quorum not reached")

	_, err = h.engine.Approve(ctx, "admin-2", c.ID)
	require.NoError(t, err)

	records, err := h.engine.Release(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, int64(500), r.Amount)
		assert.Equal(t, c.ID, r.EscrowID)
	}

	got, err = h.engine.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowReleased, got.Status)
	assert.Equal(t, domain.Timestamp(epoch), got.ReleasedAt)
	assert.Zero(t, h.ledger.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)

	_, err = h.engine.Release(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.engine.Fund(ctx, "treasury", c.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.engine.Approve(ctx, "admin-3", c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.engine.Cancel(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.GreaterOrEqual(t, h.tracer.SpanCount(), 3)
}

// ─── Funding ────────────────────────────────────────────────────────────────

func TestFund_OverFundingLeavesState(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	c := h.create(t, 1000, 1, 1)

	_, err := h.engine.Fund(ctx, "treasury", c.ID, 1200)
	require.ErrorIs(t, err, domain.ErrOverFunding)

	got, _ := h.engine.Get(c.ID)
	assert.Zero(t, got.FundedAmount)
	assert.Equal(t, int64(1_000_000), h.ledger.Balance("treasury").PayrollBalance)
	assert.Zero(t, h.ledger.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
}

func TestFund_PartialThenExact(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	c := h.create(t, 1000, 1, 1)

	got, err := h.engine.Fund(ctx, "treasury", c.ID, 400)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowPending, got.Status)

	_, err = h.engine.Fund(ctx, "treasury", c.ID, 601)
	require.ErrorIs(t, err, domain.ErrOverFunding)

	got, err = h.engine.Fund(ctx, "treasury", c.ID, 600)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowActive, got.Status)
	assert.Equal(t, int64(999_000), h.ledger.Balance("treasury").PayrollBalance)

	txs := h.ledger.Transactions(domain.EscrowAccount(c.ID))
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TxFundEscrow, txs[0].Type)
}

func TestFund_Rejections(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	c := h.create(t, 1000, 1, 1)

	_, err := h.engine.Fund(ctx, "treasury", "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.engine.Fund(ctx, "treasury", c.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.engine.Fund(ctx, "broke", c.ID, 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = h.engine.Fund(ctx, domain.EscrowAccount("other"), c.ID, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, _ := h.engine.Get(c.ID)
	assert.Zero(t, got.FundedAmount)
}

func TestFund_StoreFaultKeepsContractAndBalances(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	c := h.create(t, 1000, 1, 1)

	h.store.FailNext()
	_, err := h.engine.Fund(ctx, "treasury", c.ID, 1000)
	require.ErrorIs(t, err, domain.ErrInternal)

	got, _ := h.engine.Get(c.ID)
	assert.Equal(t, domain.EscrowPending, got.Status)
	assert.Zero(t, got.FundedAmount)
	assert.Equal(t, int64(1_000_000), h.ledger.Balance("treasury").PayrollBalance)
}

func TestFund_ConcurrentNeverOverfunds(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	c := h.create(t, 1000, 1, 1)

	var ok, over atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Fund(ctx, "treasury", c.ID, 300)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrOverFunding), errors.Is(err, domain.ErrInvalidState):
				over.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := h.engine.Get(c.ID)
	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int64(900), got.FundedAmount)
	assert.Equal(t, int64(900), h.ledger.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
	assert.Equal(t, domain.EscrowPending, got.Status)
}

// ─── Approvals ──────────────────────────────────────────────────────────────

func TestApprove_Rules(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	c := h.create(t, 100, 1, 2)

	_, err := h.engine.Approve(ctx, "admin-1", c.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState, "pending contract")

	_, err = h.engine.Fund(ctx, "treasury", c.ID, 100)
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, "admin-1", c.ID)
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, "admin-1", c.ID)
	require.ErrorIs(t, err, domain.ErrDuplicateApproval)
	got, _ := h.engine.Get(c.ID)
	assert.Equal(t, []domain.Identity{"admin-1"}, got.Approvals)

	_, err = h.engine.Approve(ctx, "admin-1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Release failures ───────────────────────────────────────────────────────

func TestRelease_DistributionFailureKeepsActive(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	c := h.create(t, 300, 3, 1)
	_, err := h.engine.Fund(ctx, "treasury", c.ID, 300)
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, "root", c.ID)
	require.NoError(t, err)

	h.dist.SetFault(func(i int, _ domain.Employee) error {
		if i == 2 {
			return errors.New("payout rail down")
		}
		return nil
	})
	_, err = h.engine.Release(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrPartialFailure)

	got, _ := h.engine.Get(c.ID)
	assert.Equal(t, domain.EscrowActive, got.Status)
	assert.Empty(t, h.dist.ByEscrow(c.ID))
	assert.Equal(t, int64(300), h.ledger.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)

	h.dist.SetFault(nil)
	records, err := h.engine.Release(ctx, c.ID)
	require.NoError(t, err, "retry after the fault clears")
	assert.Len(t, records, 3)
}

func TestRelease_RosterDrift(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	c := h.create(t, 200, 2, 1)
	_, err := h.engine.Fund(ctx, "treasury", c.ID, 200)
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, "root", c.ID)
	require.NoError(t, err)

	emp := h.reg.ActiveRoster()[0]
	_, err = h.reg.SetStatus(ctx, emp.ID, domain.EmployeeInactive)
	require.NoError(t, err)

	_, err = h.engine.Release(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	got, _ := h.engine.Get(c.ID)
	assert.Equal(t, domain.EscrowActive, got.Status)
}

// ─── Cancel ─────────────────────────────────────────────────────────────────

func TestCancel(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	unfunded := h.create(t, 100, 1, 1)
	got, err := h.engine.Cancel(ctx, unfunded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowCancelled, got.Status)
	_, err = h.engine.Cancel(ctx, unfunded.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.engine.Fund(ctx, "treasury", unfunded.ID, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	partial := h.create(t, 100, 1, 1)
	_, err = h.engine.Fund(ctx, "treasury", partial.ID, 10)
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, partial.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.engine.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Overdue ────────────────────────────────────────────────────────────────

func TestOverdue(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	due := domain.Timestamp(epoch.Add(time.Hour))

	late, err := h.engine.Create(ctx, "root", NewContract{Title: "late", TotalAmount: 10, EmployeeCount: 1, RequiredApprovals: 1, ReleaseDate: due})
	require.NoError(t, err)
	cancelled, err := h.engine.Create(ctx, "root", NewContract{Title: "cancelled", TotalAmount: 10, EmployeeCount: 1, RequiredApprovals: 1, ReleaseDate: due})
	require.NoError(t, err)
	_, err = h.engine.Create(ctx, "root", NewContract{Title: "future", TotalAmount: 10, EmployeeCount: 1, RequiredApprovals: 1, ReleaseDate: due * 2})
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)

	assert.Empty(t, h.engine.Overdue(epoch))
	overdue := h.engine.Overdue(epoch.Add(2 * time.Hour))
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	id, at, ok := h.engine.NextRelease()
	require.True(t, ok)
	assert.Equal(t, late.ID, id, "cancelled contracts leave the queue")
	assert.Equal(t, due, domain.Timestamp(at))
}

func TestNextRelease_Empty(t *testing.T) {
	h := newHarness(t, 0)
	_, _, ok := h.engine.NextRelease()
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.Restore(&domain.Snapshot{Escrows: []domain.EscrowContract{
		{ID: "b", Title: "b", Status: domain.EscrowActive, CreatedAt: 2, ReleaseDate: 5},
		{ID: "a", Title: "a", Status: domain.EscrowReleased, CreatedAt: 1, ReleaseDate: 5},
	}})
	list := h.engine.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, 1, h.engine.CountByStatus()[domain.EscrowActive])
	require.Len(t, h.engine.Overdue(time.Unix(0, 10)), 1)
}
