package gemini

import "sync"

// State describes the lifecycle of a live session.
type State string

const (
	StateConnecting       State = "connecting"
	StateAwaitingSetupAck State = "awaiting_setup_ack"
	StateActive           State = "active"
	StateClosing          State = "closing"
	StateClosed           State = "closed"
)

// stateTracker is a lightweight deterministic session state holder.
type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func newStateTracker() *stateTracker {
	return &stateTracker{state: StateConnecting}
}

// State returns the current state.
func (t *stateTracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *stateTracker) set(state State) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}
