package payroll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/talpay/internal/app/escrow"
	"github.com/tutu-network/talpay/internal/app/registry"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/domain/storetest"
)

const (
	root  domain.Identity = "root"
	ops   domain.Identity = "ops"
	alice domain.Identity = "alice"
)

func newTestService(t *testing.T) (*Service, *storetest.Store) {
	t.Helper()
	st := storetest.New()
	s, err := Open(context.Background(), Config{DefaultRate: 100, Admins: []domain.Identity{root, ops}}, st, nil)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return s, st
}

func hire(t *testing.T, s *Service, n int) []domain.Employee {
	t.Helper()
	out := make([]domain.Employee, n)
	for i := range out {
		e, err := s.AddEmployee(context.Background(), root, registry.NewEmployee{
			Identity: domain.Identity(fmt.Sprintf("worker-%02d", i)),
			Name:     fmt.Sprintf("Worker %d", i),
			Salary:   4000,
			Status:   domain.EmployeeActive,
		})
		require.NoError(t, err)
		out[i] = e
	}
	return out
}

// ─── Capability checks ──────────────────────────────────────────────────────

func TestAdminOnlyOperations(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.AddEmployee(ctx, alice, registry.NewEmployee{Identity: "x", Name: "X"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = s.MintTalPayTokens(ctx, alice, alice, 10, domain.Payroll)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, s.SetTalPayToIcpRate(ctx, alice, 50), domain.ErrUnauthorized)
	_, err = s.CreateEscrowContract(ctx, alice, escrow.NewContract{Title: "x", TotalAmount: 1, EmployeeCount: 1, RequiredApprovals: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, s.AddAdmin(ctx, alice, alice), domain.ErrUnauthorized)
	_, err = s.ReleaseEscrowFunds(ctx, alice, "any")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, int64(100), s.GetTalPayToIcpRate())
	assert.Empty(t, s.GetEmployees())
}

func TestAdminManagement(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.AddAdmin(ctx, root, alice))
	assert.True(t, s.IsAdmin(alice))
	require.NoError(t, s.RemoveAdmin(ctx, alice, ops))
	require.NoError(t, s.RemoveAdmin(ctx, alice, root))
	assert.ErrorIs(t, s.RemoveAdmin(ctx, alice, alice), domain.ErrInvalidState)
	assert.Equal(t, []domain.Identity{alice}, s.ListAdmins())
}

func TestApprove_NonAdminRejected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	hire(t, s, 1)
	_, err := s.MintTalPayTokens(ctx, root, root, 100, domain.Payroll)
	require.NoError(t, err)
	c, err := s.CreateEscrowContract(ctx, root, escrow.NewContract{Title: "x", TotalAmount: 100, EmployeeCount: 1, RequiredApprovals: 1})
	require.NoError(t, err)
	_, err = s.FundEscrowWithTalPay(ctx, root, c.ID, 100)
	require.NoError(t, err)

	_, err = s.ApproveEscrowRelease(ctx, alice, c.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	got, _ := s.GetEscrowContract(c.ID)
	assert.Empty(t, got.Approvals)
}

// ─── End to end ─────────────────────────────────────────────────────────────

func TestPayrollRun(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	emps := hire(t, s, 2)

	_, err := s.MintTalPayTokens(ctx, root, root, 10, domain.Native)
	require.NoError(t, err)
	_, err = s.ConvertIcpToTalPay(ctx, root, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.GetTokenBalance(root).PayrollBalance)

	c, err := s.CreateEscrowContract(ctx, root, escrow.NewContract{Title: "April", TotalAmount: 1000, EmployeeCount: 2, RequiredApprovals: 2})
	require.NoError(t, err)
	c, err = s.FundEscrowContract(ctx, root, c.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowActive, c.Status)

	_, err = s.ApproveEscrowRelease(ctx, root, c.ID)
	require.NoError(t, err)
	_, err = s.ApproveEscrowRelease(ctx, root, c.ID)
	require.ErrorIs(t, err, domain.ErrDuplicateApproval)
	_, err = s.ApproveEscrowRelease(ctx, ops, c.ID)
	require.NoError(t, err)

	ids, err := s.ReleaseEscrowFunds(ctx, ops, c.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, err = s.ReleaseEscrowFunds(ctx, ops, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	pays := s.GetEmployeePayments(emps[0].ID)
	require.Len(t, pays, 1)
	assert.Equal(t, int64(500), pays[0].Amount)
	assert.Len(t, s.GetPaymentRecords(), 2)
	assert.Len(t, s.GetEscrowPayments(c.ID), 2)
	assert.Equal(t, int64(500), s.GetTokenBalance(emps[1].Identity).PayrollBalance)

	// Worker cashes out half at the current rate.
	_, err = s.ConvertTalPayToIcp(ctx, emps[1].Identity, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.GetTokenBalance(emps[1].Identity).NativeBalance)

	stats := s.GetSystemStats()
	assert.Equal(t, 2, stats.TotalPayments)
	assert.Equal(t, 1, stats.EscrowsByStatus[domain.EscrowReleased])
	assert.Equal(t, int64(750), stats.TotalPayrollCirculation)

	assert.NotEmpty(t, st.Commits())
	assert.NotEmpty(t, s.GetTokenTransactions(emps[1].Identity))
}

func TestRelease_FaultAfterThreeOfTen(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	hire(t, s, 10)
	_, err := s.MintTalPayTokens(ctx, root, root, 10_000, domain.Payroll)
	require.NoError(t, err)
	c, err := s.CreateEscrowContract(ctx, root, escrow.NewContract{Title: "May", TotalAmount: 10_000, EmployeeCount: 10, RequiredApprovals: 1})
	require.NoError(t, err)
	_, err = s.FundEscrowContract(ctx, root, c.ID, 10_000)
	require.NoError(t, err)
	_, err = s.ApproveEscrowRelease(ctx, root, c.ID)
	require.NoError(t, err)

	before := s.GetSystemStats().TotalPayrollCirculation
	s.Payouts.SetFault(func(i int, _ domain.Employee) error {
		if i == 3 {
			return errors.New("simulated fault")
		}
		return nil
	})

	_, err = s.ReleaseEscrowFunds(ctx, root, c.ID)
	require.ErrorIs(t, err, domain.ErrPartialFailure)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Len(t, de.Unpaid, 10)

	got, _ := s.GetEscrowContract(c.ID)
	assert.Equal(t, domain.EscrowActive, got.Status)
	assert.Empty(t, s.GetPaymentRecords())
	assert.Equal(t, before, s.GetSystemStats().TotalPayrollCirculation)
}

// ─── Cancel ─────────────────────────────────────────────────────────────────

func TestCancel_CreatorOrAdmin(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.AddAdmin(ctx, root, alice))

	c, err := s.CreateEscrowContract(ctx, alice, escrow.NewContract{Title: "x", TotalAmount: 5, EmployeeCount: 1, RequiredApprovals: 1})
	require.NoError(t, err)
	require.NoError(t, s.RemoveAdmin(ctx, root, alice))

	_, err = s.CancelEscrowContract(ctx, "mallory", c.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := s.CancelEscrowContract(ctx, alice, c.ID)
	require.NoError(t, err, "creator may cancel after losing admin")
	assert.Equal(t, domain.EscrowCancelled, got.Status)

	_, err = s.CancelEscrowContract(ctx, root, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Employees ──────────────────────────────────────────────────────────────

func TestDeleteEmployee_Deactivates(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	emps := hire(t, s, 1)

	got, err := s.DeleteEmployee(ctx, root, emps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmployeeInactive, got.Status)

	stored, err := s.GetEmployee(emps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EmployeeInactive, stored.Status)

	_, err = s.SetEmployeeStatus(ctx, root, emps[0].ID, "ghost")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRelease_PinnedPayeeDeactivatedAfterCreate(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	emps := hire(t, s, 2)

	_, err := s.MintTalPayTokens(ctx, root, root, 1000, domain.Payroll)
	require.NoError(t, err)
	c, err := s.CreateEscrowContract(ctx, root, escrow.NewContract{
		Title: "pinned", TotalAmount: 1000, EmployeeCount: 2, RequiredApprovals: 1,
		Payees: []string{emps[0].ID, emps[1].ID},
	})
	require.NoError(t, err)
	_, err = s.FundEscrowContract(ctx, root, c.ID, 1000)
	require.NoError(t, err)
	_, err = s.ApproveEscrowRelease(ctx, root, c.ID)
	require.NoError(t, err)

	_, err = s.DeleteEmployee(ctx, root, emps[1].ID)
	require.NoError(t, err)

	_, err = s.ReleaseEscrowFunds(ctx, root, c.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, s.GetPaymentRecords())
	assert.Zero(t, s.GetTokenBalance(emps[1].Identity).PayrollBalance)

	got, err := s.GetEscrowContract(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowActive, got.Status)
}

// ─── Restore ────────────────────────────────────────────────────────────────

func TestOpen_StoreLoadFailure(t *testing.T) {
	_, err := Open(context.Background(), Config{}, &failingLoader{}, nil)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

type failingLoader struct{ storetest.Store }

func (*failingLoader) Load(context.Context) (*domain.Snapshot, error) {
	return nil, errors.New("disk gone")
}
