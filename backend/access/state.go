package access

// UnlockState is the result of evaluating a module's drip schedule. The
// NoRestriction variant makes the fail-open branches (purchase mode, empty or
// unparsable fixed dates, unknown modes) explicit rather than an implicit
// boolean default.
type UnlockState int

const (
	StateLocked UnlockState = iota
	StateUnlocked
	StateNoRestriction
)

// Unlocked reports whether the state permits viewing the module.
func (s UnlockState) Unlocked() bool {
	return s != StateLocked
}

func (s UnlockState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateNoRestriction:
		return "no_restriction"
	default:
		return "unknown"
	}
}

// UnlockInfo is the read-only side channel for UI display. UnlockAt is nil
// when no timestamp applies (purchase mode, manual mode, no access yet).
type UnlockInfo struct {
	UnlockAt *int64 `json:"unlock_at"`
	Mode     string `json:"mode"`
}
