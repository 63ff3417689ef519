// Package orderstate implements the nine-state order lifecycle and its fixed
// transition graph (spec §4.2). The machine never calls the broker; it only
// reacts to information the execution engine feeds it, and it returns a
// state_change event on every accepted transition.
package orderstate

import "fmt"

type State string

const (
	Pending          State = "PENDING"
	Validated        State = "VALIDATED"
	Submitted        State = "SUBMITTED"
	Accepted         State = "ACCEPTED"
	PartiallyFilled  State = "PARTIALLY_FILLED"
	Filled           State = "FILLED"
	Cancelled        State = "CANCELLED"
	Rejected         State = "REJECTED"
	Expired          State = "EXPIRED"
)

var terminal = map[State]bool{
	Filled:    true,
	Cancelled: true,
	Rejected:  true,
	Expired:   true,
}

func (s State) IsTerminal() bool { return terminal[s] }

// edges is the only set of legal transitions.
var edges = map[State]map[State]bool{
	Pending:         {Validated: true},
	Validated:       {Submitted: true},
	Submitted:       {Accepted: true, Rejected: true},
	Accepted:        {PartiallyFilled: true, Filled: true, Cancelled: true, Expired: true},
	PartiallyFilled: {Filled: true, Cancelled: true},
}

type TerminalStateError struct {
	From State
	To   State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("orderstate: %s is terminal, cannot transition to %s", e.From, e.To)
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("orderstate: invalid transition %s -> %s", e.From, e.To)
}

// Machine guards a single order's state and returns an event for every
// accepted transition; the caller (execution engine) is responsible for
// journaling/publishing the returned event.
type Machine struct {
	internalOrderID string
	brokerOrderID   string
	state           State
}

func New(internalOrderID string) *Machine {
	return &Machine{internalOrderID: internalOrderID, state: Pending}
}

func (m *Machine) State() State { return m.state }

// SetBrokerOrderID must be called before transitioning to Submitted, which
// requires a non-empty broker_order_id (spec §4.2 guard).
func (m *Machine) SetBrokerOrderID(id string) { m.brokerOrderID = id }

// TransitionEvent is the state_change event emitted on a legal transition.
type TransitionEvent struct {
	Event           string
	InternalOrderID string
	From            State
	To              State
}

// Transition attempts to move the machine to `to`. On success it returns
// the event to journal/publish. On failure it returns a *TerminalStateError
// or *InvalidTransitionError without mutating state.
func (m *Machine) Transition(to State) (TransitionEvent, error) {
	if m.state.IsTerminal() {
		return TransitionEvent{}, &TerminalStateError{From: m.state, To: to}
	}
	if to == Submitted && m.brokerOrderID == "" {
		return TransitionEvent{}, &InvalidTransitionError{From: m.state, To: to}
	}
	allowed, ok := edges[m.state]
	if !ok || !allowed[to] {
		return TransitionEvent{}, &InvalidTransitionError{From: m.state, To: to}
	}
	from := m.state
	m.state = to
	return TransitionEvent{
		Event:           "state_change",
		InternalOrderID: m.internalOrderID,
		From:            from,
		To:              to,
	}, nil
}
