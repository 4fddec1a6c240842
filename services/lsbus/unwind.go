// services/lsbus/unwind.go
package lsbus

// Unwinder records how to undo each acquisition step. Used as
//
//	var u lsbus.Unwinder
//	defer u.Unwind()
//	...acquire, u.Push(name, release)...
//	keep := u.Disarm() // success: nothing is undone on return
//
// Unwind runs the recorded steps last-in first-out, each exactly once.
type Unwinder struct {
	steps []unwindStep
}

type unwindStep struct {
	name string
	undo func()
}

// Push records the undo action for a step that has just succeeded.
func (u *Unwinder) Push(name string, undo func()) {
	u.steps = append(u.steps, unwindStep{name: name, undo: undo})
}

// Len reports the number of steps held.
func (u *Unwinder) Len() int { return len(u.steps) }

// Names lists held steps in acquisition order.
func (u *Unwinder) Names() []string {
	out := make([]string, len(u.steps))
	for i, s := range u.steps {
		out[i] = s.name
	}
	return out
}

// Disarm transfers the held steps to the returned Unwinder and leaves u
// empty, so a deferred u.Unwind becomes a no-op.
func (u *Unwinder) Disarm() Unwinder {
	out := Unwinder{steps: u.steps}
	u.steps = nil
	return out
}

// Unwind undoes all held steps in reverse order and empties u.
func (u *Unwinder) Unwind() {
	for len(u.steps) > 0 {
		last := len(u.steps) - 1
		s := u.steps[last]
		u.steps = u.steps[:last]
		if s.undo != nil {
			s.undo()
		}
	}
}
