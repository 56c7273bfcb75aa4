package permission

import "fmt"

// State is the desired outcome of a toggle.
type State int

const (
	Revoked State = iota
	Granted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Revoked:
		return "revoked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState converts the API representation of a state.
func ParseState(raw string) (State, error) {
	switch raw {
	case "granted":
		return Granted, nil
	case "revoked":
		return Revoked, nil
	default:
		return Revoked, fmt.Errorf("permission: unknown state %q", raw)
	}
}

// Change is delivered to observers after every toggle. Selection holds the
// full post-cascade selection, not just the toggled code.
type Change struct {
	Code      Code
	State     State
	Selection Set
	Added     []Code
	Removed   []Code
}

// Observer receives changes synchronously.
type Observer func(Change)

// Selection holds the draft set of granted codes for one edit session.
// It is not safe for concurrent use; callers serialise toggles per session.
type Selection struct {
	catalog   *Catalog
	current   Set
	observers []Observer
}

// NewSelection returns an empty selection bound to the catalog.
func NewSelection(c *Catalog, observers ...Observer) *Selection {
	return &Selection{catalog: c, current: make(Set), observers: observers}
}

// Subscribe registers an observer.
func (s *Selection) Subscribe(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Seed replaces the selection wholesale. The requires invariant is not checked
// or repaired; see Violations.
func (s *Selection) Seed(codes ...Code) {
	s.current = NewSet(codes...)
}

// Toggle grants or revokes code through the resolver, installs the result and
// notifies observers. It returns a snapshot of the new selection.
func (s *Selection) Toggle(code Code, state State) Set {
	before := s.current
	var after Set
	if state == Granted {
		after = Grant(s.catalog, before, code)
	} else {
		after = Revoke(s.catalog, before, code)
	}
	s.current = after

	change := Change{
		Code:      code,
		State:     state,
		Selection: after.Clone(),
		Added:     after.Difference(before),
		Removed:   before.Difference(after),
	}
	for _, o := range s.observers {
		o(change)
	}
	return after.Clone()
}

// Current returns a snapshot of the selection.
func (s *Selection) Current() Set {
	return s.current.Clone()
}
