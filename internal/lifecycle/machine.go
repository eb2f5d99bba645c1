// Package lifecycle owns the order state machine: PENDING → EXECUTED or
// PENDING → CANCELED, with terminal states frozen forever.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ordergate/internal/domain"
)

// InvalidTransitionError is returned when a transition is attempted from a
// state that does not permit it. Terminal states permit nothing.
type InvalidTransitionError struct {
	OrderID   string
	From      domain.OrderStatus
	Attempted domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move %s -> %s", e.OrderID, e.From, e.Attempted)
}

// Reason identifies the rejection for metrics labels.
func (e *InvalidTransitionError) Reason() string { return "invalid_transition" }

// NotFoundError is returned when the order ID is unknown to the machine.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func (e *NotFoundError) Reason() string { return "not_found" }

// Listener observes committed transitions. Listeners run synchronously in
// transition order for a given order; a listener error or panic is logged
// and never rolls the transition back.
type Listener interface {
	OnTransition(order domain.Order, from, to domain.OrderStatus) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(order domain.Order, from, to domain.OrderStatus) error

func (f ListenerFunc) OnTransition(order domain.Order, from, to domain.OrderStatus) error {
	return f(order, from, to)
}

// entry serializes transitions for one order. Concurrent Execute and Cancel
// calls race for the single PENDING → terminal transition; exactly one wins.
type entry struct {
	mu    sync.Mutex
	order domain.Order
}

// Machine tracks every order the controller has admitted, including
// terminal ones, which are retained for audit.
type Machine struct {
	log       *slog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	orders    map[string]*entry
	listeners []Listener
}

// NewMachine creates an empty Machine.
func NewMachine(log *slog.Logger) *Machine {
	return &Machine{
		log:    log,
		now:    time.Now,
		orders: make(map[string]*entry),
	}
}

// SetNow overrides the machine's clock. Intended for tests.
func (m *Machine) SetNow(now func() time.Time) { m.now = now }

// AddListener registers a transition listener. Not safe to call once
// transitions are flowing.
func (m *Machine) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Submit registers an admitted order in the PENDING state. The order ID must
// be unique for the lifetime of the machine.
func (m *Machine) Submit(o *domain.Order) error {
	now := m.now()
	o.Status = domain.StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	m.mu.Lock()
	if _, exists := m.orders[o.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: duplicate order id %s", o.ID)
	}
	e := &entry{order: *o}
	m.orders[o.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	m.notifyLocked(e.order, "", domain.StatusPending)
	e.mu.Unlock()
	return nil
}

// Execute moves a PENDING order to EXECUTED, recording the adjusted fill.
// Returns the updated order, or an InvalidTransitionError when the order has
// already reached a terminal state.
func (m *Machine) Execute(orderID string, fill domain.AdjustedFill) (domain.Order, error) {
	return m.transition(orderID, domain.StatusExecuted, func(o *domain.Order) {
		o.ExecutedPrice = fill.ExecutedPrice
		o.Commission = fill.Commission
	})
}

// Cancel moves a PENDING order to CANCELED with the given reason.
func (m *Machine) Cancel(orderID, reason string) (domain.Order, error) {
	return m.transition(orderID, domain.StatusCanceled, func(o *domain.Order) {
		o.CancelReason = reason
	})
}

// transition performs the compare-and-transition under the order's lock:
// only PENDING orders move, and the mutation applies before listeners see
// the new state.
func (m *Machine) transition(orderID string, to domain.OrderStatus, apply func(*domain.Order)) (domain.Order, error) {
	e, ok := m.lookup(orderID)
	if !ok {
		return domain.Order{}, &NotFoundError{OrderID: orderID}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.order.Status
	if from != domain.StatusPending {
		return e.order, &InvalidTransitionError{OrderID: orderID, From: from, Attempted: to}
	}

	e.order.Status = to
	e.order.UpdatedAt = m.now()
	apply(&e.order)

	m.notifyLocked(e.order, from, to)
	return e.order, nil
}

// notifyLocked runs the listeners for a committed transition. Caller holds
// the entry lock, so listeners for one order observe transitions in order.
func (m *Machine) notifyLocked(o domain.Order, from, to domain.OrderStatus) {
	for _, l := range m.listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.log.Error("lifecycle listener panicked",
						"order_id", o.ID, "from", from, "to", to, "panic", rec)
				}
			}()
			if err := l.OnTransition(o, from, to); err != nil {
				m.log.Error("lifecycle listener failed",
					"order_id", o.ID, "from", from, "to", to, "error", err)
			}
		}()
	}
}

func (m *Machine) lookup(orderID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.orders[orderID]
	return e, ok
}

// Get returns a snapshot of the order with the given ID.
func (m *Machine) Get(orderID string) (domain.Order, bool) {
	e, ok := m.lookup(orderID)
	if !ok {
		return domain.Order{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, true
}

// List returns snapshots of all orders in the given status, or of every
// order when status is empty, ordered by creation time.
func (m *Machine) List(status domain.OrderStatus) []domain.Order {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if status == "" || e.order.Status == status {
			out = append(out, e.order)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
