package payout

import (
	"github.com/shopspring/decimal"

	"github.com/tutu-network/talpay/internal/domain"
)

// SplitPolicy selects how an escrow total is divided among payees.
type SplitPolicy string

const (
	// SplitEqual pays total/n to everyone.
	SplitEqual SplitPolicy = "equal"
	// SplitSalary weights each share by the payee's salary.
	SplitSalary SplitPolicy = "salary"
)

// Valid reports whether p is a known policy.
func (p SplitPolicy) Valid() bool { return p == SplitEqual || p == SplitSalary }

// Shares divides total among payees under policy. Integer division leaves a
// remainder smaller than len(payees); it is handed out one unit each to the
// first payees in order, so the shares always sum to total.
func Shares(policy SplitPolicy, total int64, payees []domain.Employee) ([]int64, error) {
	n := len(payees)
	if n == 0 {
		return nil, domain.Errorf(domain.KindInvalidState, "no payees")
	}
	if total <= 0 {
		return nil, domain.Errorf(domain.KindInvalidAmount, "nothing to distribute")
	}

	shares := make([]int64, n)
	switch policy {
	case SplitSalary:
		// The salary sum and total*salary can both exceed int64. Each
		// quotient is at most total. QuoRem at precision 0 is exact floor division.
		s := decimal.Zero
		for _, e := range payees {
			s = s.Add(decimal.NewFromInt(e.Salary))
		}
		if !s.IsPositive() {
			return nil, domain.Errorf(domain.KindInvalidState, "salary split needs at least one positive salary")
		}
		t := decimal.NewFromInt(total)
		for i, e := range payees {
			q, _ := t.Mul(decimal.NewFromInt(e.Salary)).QuoRem(s, 0)
			shares[i] = q.IntPart()
		}
	case SplitEqual, "":
		each := total / int64(n)
		for i := range shares {
			shares[i] = each
		}
	default:
		return nil, domain.Errorf(domain.KindInvalidInput, "unknown split policy %q", policy)
	}

	var paid int64
	for _, s := range shares {
		paid += s
	}
	for i := 0; paid < total; i = (i + 1) % n {
		shares[i]++
		paid++
	}
	for i, s := range shares {
		if s <= 0 {
			return nil, domain.Errorf(domain.KindInvalidState, "share for employee %s rounds to zero", payees[i].ID)
		}
	}
	return shares, nil
}
