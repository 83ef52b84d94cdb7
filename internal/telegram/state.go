package telegram

import (
	"sync"
	"time"
)

// UserState is the pending step of a multi-message conversation
type UserState struct {
	State string
	Data  map[string]any
}

// StateManager manages user states for FSM
type StateManager struct {
	mu     sync.RWMutex
	states map[int64]*UserState
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]*UserState),
	}
}

// Set sets a user's state
func (sm *StateManager) Set(userID int64, state string, data map[string]any) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if data == nil {
		data = make(map[string]any)
	}
	sm.states[userID] = &UserState{
		State: state,
		Data:  data,
	}
}

// Get returns a user's current state
func (sm *StateManager) Get(userID int64) *UserState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.states[userID]
}

// Clear removes a user's state
func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, userID)
}

// State constants
const (
	StateWaitTrackWallet   = "wait_track_wallet"
	StateWaitContestWallet = "wait_contest_wallet"
	StateWaitContestStart  = "wait_contest_start"
	StateWaitContestDays   = "wait_contest_days"
	StateWaitContestCap    = "wait_contest_cap"
)

// contestDraft collects /newcontest answers across messages
type contestDraft struct {
	Start time.Time
	Days  int
}

func draftFrom(state *UserState) contestDraft {
	d, _ := state.Data["draft"].(contestDraft)
	return d
}
