package tx

// Named points at which Hooks.FailPoint is invoked. Tests panic from the hook
// to simulate a process crash at that point.
const (
	FailAfterEntryPersist  = "after-entry-persist"
	FailBeforeCommitFlag   = "before-commit-flag"
	FailAfterCommitFlag    = "after-commit-flag"
	FailMidReplay          = "mid-replay"
	FailRecoveryMidReplay  = "recovery-mid-replay"
	FailBeforeLaneReleased = "before-lane-idle"
)

// Hooks are test seams. The zero value does nothing.
type Hooks struct {
	// FailPoint is called with one of the Fail* names.
	FailPoint func(name string)
}

func (h Hooks) fire(name string) {
	if h.FailPoint != nil {
		h.FailPoint(name)
	}
}
