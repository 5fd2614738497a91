package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/talpay/internal/app/escrow"
	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/app/registry"
	"github.com/tutu-network/talpay/internal/domain"
)

func TestCompute_AcrossComponents(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := ledger.New(ledger.DefaultConfig(), nil)
	reg := registry.New(nil)
	dist := payout.New(payout.Config{}, l, reg, nil)
	eng := escrow.New(l, dist, nil, nil)
	eng.SetClock(func() time.Time { return now })

	_, err := reg.Add(ctx, registry.NewEmployee{Identity: "a", Name: "A", Status: domain.EmployeeActive})
	require.NoError(t, err)
	_, err = reg.Add(ctx, registry.NewEmployee{Identity: "b", Name: "B", Status: domain.EmployeeActive})
	require.NoError(t, err)
	_, err = reg.Add(ctx, registry.NewEmployee{Identity: "c", Name: "C"})
	require.NoError(t, err)

	_, err = l.Mint(ctx, "treasury", 5000, domain.Payroll)
	require.NoError(t, err)
	_, err = l.Mint(ctx, "treasury", 7, domain.Native)
	require.NoError(t, err)

	paid, err := eng.Create(ctx, "root", escrow.NewContract{Title: "paid", TotalAmount: 1000, EmployeeCount: 2, RequiredApprovals: 1})
	require.NoError(t, err)
	_, err = eng.Fund(ctx, "treasury", paid.ID, 1000)
	require.NoError(t, err)
	_, err = eng.Approve(ctx, "root", paid.ID)
	require.NoError(t, err)
	_, err = eng.Release(ctx, paid.ID)
	require.NoError(t, err)

	_, err = eng.Create(ctx, "root", escrow.NewContract{
		Title: "late", TotalAmount: 10, EmployeeCount: 1, RequiredApprovals: 1,
		ReleaseDate: domain.Timestamp(now.Add(-time.Minute)),
	})
	require.NoError(t, err)

	agg := New(reg, eng, dist, l)
	agg.SetClock(func() time.Time { return now })
	s := agg.Compute()

	assert.Equal(t, 3, s.TotalEmployees)
	assert.Equal(t, 2, s.ActiveEmployees)
	assert.Equal(t, 1, s.EmployeesByStatus[domain.EmployeePending])
	assert.Equal(t, 2, s.TotalEscrowContracts)
	assert.Equal(t, 0, s.ActiveEscrowContracts)
	assert.Equal(t, 1, s.EscrowsByStatus[domain.EscrowReleased])
	assert.Equal(t, 1, s.OverdueEscrows)
	assert.Equal(t, 2, s.TotalPayments)
	assert.Equal(t, 5, s.TotalTransactions, "two mints, one funding, two distributions")
	assert.Equal(t, int64(5000), s.TotalPayrollCirculation, "release moves units, never creates them")
	assert.Equal(t, int64(7), s.TotalNativeCirculation)
}
