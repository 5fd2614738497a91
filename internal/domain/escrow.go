package domain

import "slices"

// ─── Escrow Types ───────────────────────────────────────────────────────────

// EscrowStatus is the lifecycle state of an escrow contract.
type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "Pending"
	EscrowActive    EscrowStatus = "Active"
	EscrowReleased  EscrowStatus = "Released"
	EscrowCancelled EscrowStatus = "Cancelled"
)

// escrowTransitions is the only place allowed transitions are defined.
// Released and Cancelled are terminal.
var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowPending: {EscrowActive, EscrowCancelled},
	EscrowActive:  {EscrowReleased},
}

// CanTransitionTo reports whether s → next is allowed.
func (s EscrowStatus) CanTransitionTo(next EscrowStatus) bool {
	return slices.Contains(escrowTransitions[s], next)
}

// Terminal reports whether no transition leaves s.
func (s EscrowStatus) Terminal() bool { return len(escrowTransitions[s]) == 0 }

// Valid reports whether s is a known status.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowPending, EscrowActive, EscrowReleased, EscrowCancelled:
		return true
	}
	return false
}

// EscrowContract accumulates funding up to TotalAmount, then needs a quorum
// of distinct admin approvals before it can be released to payees.
type EscrowContract struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	TotalAmount       int64        `json:"total_amount"`
	FundedAmount      int64        `json:"funded_amount"`
	EmployeeCount     int          `json:"employee_count"`
	ReleaseDate       int64        `json:"release_date"`
	Status            EscrowStatus `json:"status"`
	Approvals         []Identity   `json:"approvals"`
	RequiredApprovals int          `json:"required_approvals"`
	Creator           Identity     `json:"creator"`
	// Payees pins the employee ids to pay. Empty means the active roster
	// at release time.
	Payees     []string `json:"payees,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	ReleasedAt int64    `json:"released_at,omitempty"`
}

// Remaining returns the amount still needed to fully fund the contract.
func (c EscrowContract) Remaining() int64 { return c.TotalAmount - c.FundedAmount }

// HasApproved reports whether id is already in the approval set.
func (c EscrowContract) HasApproved(id Identity) bool {
	return slices.Contains(c.Approvals, id)
}

// QuorumReached reports whether enough distinct approvals are recorded.
func (c EscrowContract) QuorumReached() bool {
	return len(c.Approvals) >= c.RequiredApprovals
}

// Overdue reports whether the contract is still open past its release date.
func (c EscrowContract) Overdue(now int64) bool {
	if c.Status != EscrowPending && c.Status != EscrowActive {
		return false
	}
	return c.ReleaseDate > 0 && now > c.ReleaseDate
}

// Clone returns a deep copy so callers never alias internal slices.
func (c EscrowContract) Clone() EscrowContract {
	c.Approvals = slices.Clone(c.Approvals)
	c.Payees = slices.Clone(c.Payees)
	return c
}

// TransitionTo moves the contract to next if the table allows it.
func (c *EscrowContract) TransitionTo(next EscrowStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return Errorf(KindInvalidState, "escrow %s cannot move from %s to %s", c.ID, c.Status, next)
	}
	c.Status = next
	return nil
}

// ApplyFunding adds amount to FundedAmount and activates the contract at
// exactly full funding. The caller validated amount against Remaining.
func (c *EscrowContract) ApplyFunding(amount int64) error {
	if amount <= 0 {
		return Errorf(KindInvalidAmount, "funding amount must be positive, got %d", amount)
	}
	if c.Status == EscrowReleased || c.Status == EscrowCancelled {
		return Errorf(KindInvalidState, "escrow %s is %s and cannot take funding", c.ID, c.Status)
	}
	// An Active contract is fully funded, so any amount lands here.
	if amount > c.Remaining() {
		return Errorf(KindOverFunding, "escrow %s needs %d more, got %d", c.ID, c.Remaining(), amount)
	}
	c.FundedAmount += amount
	if c.FundedAmount == c.TotalAmount {
		return c.TransitionTo(EscrowActive)
	}
	return nil
}
