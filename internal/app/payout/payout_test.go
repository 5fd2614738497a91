package payout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/domain/storetest"
)

type fakeRoster struct {
	emps []domain.Employee
}

func (f *fakeRoster) ActiveRoster() []domain.Employee {
	var out []domain.Employee
	for _, e := range f.emps {
		if e.Status == domain.EmployeeActive {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeRoster) Lookup(ids []string) ([]domain.Employee, error) {
	var out []domain.Employee
	for _, id := range ids {
		found := false
		for _, e := range f.emps {
			if e.ID == id {
				out = append(out, e)
				found = true
			}
		}
		if !found {
			return nil, domain.Errorf(domain.KindNotFound, "employee %s", id)
		}
	}
	return out, nil
}

func activeEmployees(n int) []domain.Employee {
	out := make([]domain.Employee, n)
	for i := range out {
		out[i] = domain.Employee{
			ID:       fmt.Sprintf("emp-%d", i),
			Identity: domain.Identity(fmt.Sprintf("user-%d", i)),
			Name:     fmt.Sprintf("Employee %d", i),
			Salary:   int64(100 * (i + 1)),
			Status:   domain.EmployeeActive,
		}
	}
	return out
}

// fundEscrow moves amount from a minted funder account into the escrow account.
func fundEscrow(t *testing.T, l *ledger.Ledger, escrowID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := l.Mint(ctx, "funder", amount, domain.Payroll)
	require.NoError(t, err)
	b := l.Begin("funder", domain.EscrowAccount(escrowID))
	defer b.Close(ctx)
	_, err = b.Transfer(domain.TxFundEscrow, "funder", domain.EscrowAccount(escrowID), amount, "")
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, "fund", nil, nil))
}

func setup(t *testing.T, n int, total int64) (*Distributor, *ledger.Ledger, *storetest.Store, domain.EscrowContract) {
	t.Helper()
	st := storetest.New()
	l := ledger.New(ledger.DefaultConfig(), st)
	d := New(Config{}, l, &fakeRoster{emps: activeEmployees(n)}, nil)
	c := domain.EscrowContract{ID: "esc-1", TotalAmount: total, FundedAmount: total, EmployeeCount: n, Status: domain.EscrowActive}
	fundEscrow(t, l, c.ID, total)
	return d, l, st, c
}

// ─── Shares ─────────────────────────────────────────────────────────────────

func TestShares(t *testing.T) {
	emps := activeEmployees(3) // salaries 100, 200, 300
	tests := []struct {
		name   string
		policy SplitPolicy
		total  int64
		want   []int64
	}{
		{"equal exact", SplitEqual, 900, []int64{300, 300, 300}},
		{"equal remainder to first", SplitEqual, 1001, []int64{334, 334, 333}},
		{"salary weighted", SplitSalary, 600, []int64{100, 200, 300}},
		{"salary remainder", SplitSalary, 100, []int64{17, 33, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shares(tt.policy, tt.total, emps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			var sum int64
			for _, s := range got {
				sum += s
			}
			assert.Equal(t, tt.total, sum)
		})
	}
}

func TestShares_Rejections(t *testing.T) {
	_, err := Shares(SplitEqual, 2, activeEmployees(3))
	assert.ErrorIs(t, err, domain.ErrInvalidState, "zero share")
	_, err = Shares(SplitEqual, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = Shares("lottery", 10, activeEmployees(1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	zero := activeEmployees(2)
	zero[0].Salary, zero[1].Salary = 0, 0
	_, err = Shares(SplitSalary, 10, zero)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestShares_SalaryNoOverflow(t *testing.T) {
	emps := activeEmployees(2)
	emps[0].Salary = 1 << 40
	emps[1].Salary = 1 << 40
	got, err := Shares(SplitSalary, 1<<50, emps)
	require.NoError(t, err)
	assert.Equal(t, []int64{1 << 49, 1 << 49}, got)
}

func TestShares_SalarySumBeyondInt64(t *testing.T) {
	emps := activeEmployees(2)
	emps[0].Salary = math.MaxInt64/2 + 10
	emps[1].Salary = math.MaxInt64/2 + 10
	got, err := Shares(SplitSalary, 1000, emps)
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 500}, got)
}

// ─── Distribute ─────────────────────────────────────────────────────────────

func TestDistribute_PaysEveryone(t *testing.T) {
	d, l, st, c := setup(t, 2, 1000)
	applied := false

	recs, err := d.Distribute(context.Background(), c, &domain.Changeset{Escrows: []domain.EscrowContract{c}}, func() { applied = true })
	require.NoError(t, err)
	assert.True(t, applied)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, int64(500), r.Amount)
		assert.Equal(t, domain.PaymentCompleted, r.Status)
		assert.Len(t, r.TransactionHash, 64)
	}
	assert.Equal(t, int64(500), l.Balance("user-0").PayrollBalance)
	assert.Zero(t, l.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)

	last := st.Last()
	assert.Len(t, last.Payments, 2)
	assert.Len(t, last.Escrows, 1, "escrow row committed with the payments")
	assert.Len(t, d.ByEscrow(c.ID), 2)
	assert.Len(t, d.ByEmployee("emp-1"), 1)
	assert.Equal(t, 2, d.Count())
}

func TestDistribute_FaultAfterThreeOfTen_IsAtomic(t *testing.T) {
	d, l, _, c := setup(t, 10, 10_000)
	payrollBefore, _ := l.Circulation()
	injected := errors.New("node lost")
	d.SetFault(func(i int, _ domain.Employee) error {
		if i == 3 {
			return injected
		}
		return nil
	})
	applied := false

	_, err := d.Distribute(context.Background(), c, nil, func() { applied = true })
	require.ErrorIs(t, err, domain.ErrPartialFailure)
	require.ErrorIs(t, err, injected)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Len(t, de.Unpaid, 10)

	assert.False(t, applied)
	assert.Empty(t, d.Payments())
	for i := 0; i < 10; i++ {
		assert.Zero(t, l.Balance(domain.Identity(fmt.Sprintf("user-%d", i))).PayrollBalance)
	}
	assert.Equal(t, int64(10_000), l.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
	payrollAfter, _ := l.Circulation()
	assert.Equal(t, payrollBefore, payrollAfter)

	txs := l.Transactions(domain.EscrowAccount(c.ID))
	failed := txs[len(txs)-1]
	assert.Equal(t, domain.TxPayrollDistribution, failed.Type)
	assert.Equal(t, domain.TxFailed, failed.Status)
	assert.Contains(t, failed.Metadata, "emp-9")
}

func TestDistribute_StoreFaultIsPartialFailure(t *testing.T) {
	d, l, st, c := setup(t, 3, 300)
	st.FailNext()

	_, err := d.Distribute(context.Background(), c, nil, nil)
	require.ErrorIs(t, err, domain.ErrPartialFailure)
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, int64(300), l.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
	assert.Empty(t, d.Payments())

	d.SetFault(nil)
	recs, err := d.Distribute(context.Background(), c, nil, nil)
	require.NoError(t, err, "retry succeeds once the store recovers")
	assert.Len(t, recs, 3)
}

func TestDistribute_RosterMismatch(t *testing.T) {
	d, _, _, c := setup(t, 2, 100)
	c.EmployeeCount = 3
	_, err := d.Distribute(context.Background(), c, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDistribute_PinnedPayees(t *testing.T) {
	d, l, _, c := setup(t, 4, 100)
	c.Payees = []string{"emp-3", "emp-1"}
	c.EmployeeCount = 2

	recs, err := d.Distribute(context.Background(), c, nil, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "emp-3", recs[0].EmployeeID)
	assert.Equal(t, int64(50), l.Balance("user-3").PayrollBalance)
	assert.Zero(t, l.Balance("user-0").PayrollBalance)

	c.Payees = []string{"ghost"}
	_, err = d.Distribute(context.Background(), c, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDistribute_PinnedInactivePayeeRejected(t *testing.T) {
	st := storetest.New()
	l := ledger.New(ledger.DefaultConfig(), st)
	emps := activeEmployees(2)
	emps[1].Status = domain.EmployeeInactive
	d := New(Config{}, l, &fakeRoster{emps: emps}, nil)
	c := domain.EscrowContract{
		ID: "esc-1", TotalAmount: 100, FundedAmount: 100, EmployeeCount: 2,
		Status: domain.EscrowActive, Payees: []string{"emp-0", "emp-1"},
	}
	fundEscrow(t, l, c.ID, 100)
	commits := len(st.Commits())

	recs, err := d.Distribute(context.Background(), c, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Nil(t, recs)
	assert.Zero(t, l.Balance("user-0").PayrollBalance)
	assert.Zero(t, l.Balance("user-1").PayrollBalance)
	assert.Equal(t, int64(100), l.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
	assert.Len(t, st.Commits(), commits, "rejected before any ledger work")
	assert.Zero(t, d.Count())
}

func TestDistribute_UnderfundedEscrowAccount(t *testing.T) {
	d, l, _, c := setup(t, 2, 100)
	c.TotalAmount = 200 // more than the account holds

	_, err := d.Distribute(context.Background(), c, nil, nil)
	require.ErrorIs(t, err, domain.ErrPartialFailure)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(100), l.Balance(domain.EscrowAccount(c.ID)).PayrollBalance)
}

func TestRestore(t *testing.T) {
	d := New(Config{}, ledger.New(ledger.DefaultConfig(), nil), &fakeRoster{}, nil)
	d.Restore(&domain.Snapshot{Payments: []domain.PaymentRecord{{ID: "p1", EmployeeID: "e1", EscrowID: "x"}}})
	assert.Len(t, d.ByEmployee("e1"), 1)
	assert.Len(t, d.ByEscrow("x"), 1)
}
