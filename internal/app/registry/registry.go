// Package registry owns employee records. Records are never hard-deleted;
// deactivation is a status change.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
)

// NewEmployee is the input to Add.
type NewEmployee struct {
	Identity  domain.Identity
	Name      string
	Position  string
	Salary    int64
	WalletRef string
	// Status defaults to pending when empty.
	Status domain.EmployeeStatus
}

// Registry is the employee arena keyed by id, with a unique identity index.
type Registry struct {
	store domain.Store
	now   func() time.Time

	mu         sync.RWMutex
	byID       map[string]domain.Employee
	byIdentity map[domain.Identity]string
	order      []string // insertion order, by join date
}

// New creates an empty registry writing through store.
func New(store domain.Store) *Registry {
	return &Registry{
		store:      store,
		now:        time.Now,
		byID:       make(map[string]domain.Employee),
		byIdentity: make(map[domain.Identity]string),
	}
}

// SetClock overrides the time source (tests).
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Restore loads committed employees.
func (r *Registry) Restore(snap *domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	emps := append([]domain.Employee(nil), snap.Employees...)
	sort.SliceStable(emps, func(i, j int) bool { return emps[i].JoinDate < emps[j].JoinDate })
	for _, e := range emps {
		r.byID[e.ID] = e
		r.byIdentity[e.Identity] = e.ID
		r.order = append(r.order, e.ID)
	}
}

// Add registers a new employee.
func (r *Registry) Add(ctx context.Context, in NewEmployee) (domain.Employee, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case in.Identity.IsZero():
		return domain.Employee{}, domain.Errorf(domain.KindInvalidInput, "identity is required")
	case in.Identity.IsEscrowAccount():
		return domain.Employee{}, domain.Errorf(domain.KindInvalidInput, "identity %s is reserved", in.Identity)
	case name == "":
		return domain.Employee{}, domain.Errorf(domain.KindInvalidInput, "name is required")
	case in.Salary < 0:
		return domain.Employee{}, domain.Errorf(domain.KindInvalidAmount, "salary must not be negative")
	}
	status := in.Status
	if status == "" {
		status = domain.EmployeePending
	}
	if !status.Valid() {
		return domain.Employee{}, domain.Errorf(domain.KindInvalidInput, "unknown employee status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.byIdentity[in.Identity]; ok {
		return domain.Employee{}, domain.Errorf(domain.KindDuplicateIdentity, "identity %s already belongs to employee %s", in.Identity, owner)
	}
	e := domain.Employee{
		ID:        uuid.NewString(),
		Identity:  in.Identity,
		Name:      name,
		Position:  in.Position,
		Salary:    in.Salary,
		WalletRef: in.WalletRef,
		Status:    status,
		JoinDate:  domain.Timestamp(r.now()),
	}
	if err := domain.Commit(ctx, r.store, "add employee", &domain.Changeset{Employees: []domain.Employee{e}}); err != nil {
		return domain.Employee{}, err
	}
	r.byID[e.ID] = e
	r.byIdentity[e.Identity] = e.ID
	r.order = append(r.order, e.ID)
	logger.InfoCtx(ctx, "employee added", zap.String("id", e.ID), zap.String("status", string(e.Status)))
	return e, nil
}

// Update applies the present fields of p.
func (r *Registry) Update(ctx context.Context, id string, p domain.EmployeePatch) (domain.Employee, error) {
	if err := p.Validate(); err != nil {
		return domain.Employee{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return domain.Employee{}, domain.Errorf(domain.KindNotFound, "employee %s not found", id)
	}
	if p.Empty() {
		return cur, nil
	}
	next := p.Apply(cur)
	if err := domain.Commit(ctx, r.store, "update employee", &domain.Changeset{Employees: []domain.Employee{next}}); err != nil {
		return domain.Employee{}, err
	}
	r.byID[id] = next
	return next, nil
}

// SetStatus is Update with only the status present.
func (r *Registry) SetStatus(ctx context.Context, id string, status domain.EmployeeStatus) (domain.Employee, error) {
	return r.Update(ctx, id, domain.EmployeePatch{Status: &status})
}

// Get returns the employee with id.
func (r *Registry) Get(id string) (domain.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return domain.Employee{}, domain.Errorf(domain.KindNotFound, "employee %s not found", id)
	}
	return e, nil
}

// ByIdentity returns the employee owned by identity.
func (r *Registry) ByIdentity(identity domain.Identity) (domain.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return domain.Employee{}, domain.Errorf(domain.KindNotFound, "no employee for identity %s", identity)
	}
	return r.byID[id], nil
}

// Lookup resolves ids in order. Any unknown id fails the whole lookup.
func (r *Registry) Lookup(ids []string) ([]domain.Employee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Employee, 0, len(ids))
	for _, id := range ids {
		e, ok := r.byID[id]
		if !ok {
			return nil, domain.Errorf(domain.KindNotFound, "employee %s not found", id)
		}
		out = append(out, e)
	}
	return out, nil
}

// List returns every employee in join order.
func (r *Registry) List() []domain.Employee {
	return r.filter(func(domain.Employee) bool { return true })
}

// ActiveRoster returns the active employees in join order.
func (r *Registry) ActiveRoster() []domain.Employee {
	return r.filter(func(e domain.Employee) bool { return e.Status == domain.EmployeeActive })
}

// CountByStatus returns the number of employees per status.
func (r *Registry) CountByStatus() map[domain.EmployeeStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.EmployeeStatus]int, 3)
	for _, e := range r.byID {
		out[e.Status]++
	}
	return out
}

func (r *Registry) filter(keep func(domain.Employee) bool) []domain.Employee {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Employee, 0, len(r.order))
	for _, id := range r.order {
		if e := r.byID[id]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}
