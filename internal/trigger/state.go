package trigger

// State is a trigger's position in the firing lifecycle.
type State int

const (
	// StateNone means the trigger is not present in the registry.
	StateNone State = iota
	StateNormal
	StatePaused
	StateComplete
	StateError
	StateBlocked
	StatePausedBlocked
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateNormal:
		return "NORMAL"
	case StatePaused:
		return "PAUSED"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	case StateBlocked:
		return "BLOCKED"
	case StatePausedBlocked:
		return "PAUSED_BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Acquirable reports whether a trigger in this state may be returned by
// acquire_next_triggers. COMPLETE and ERROR triggers are never acquired;
// neither is a trigger currently BLOCKED or PAUSED_BLOCKED.
func (s State) Acquirable() bool {
	return s == StateNormal
}

// Paused reports whether this state is one of the two paused variants.
func (s State) Paused() bool {
	return s == StatePaused || s == StatePausedBlocked
}

// Blocked reports whether this state is one of the two blocked variants.
func (s State) Blocked() bool {
	return s == StateBlocked || s == StatePausedBlocked
}

// Pause maps a state to its paused counterpart: NORMAL->PAUSED,
// BLOCKED->PAUSED_BLOCKED. Other states are returned unchanged.
func (s State) Pause() State {
	switch s {
	case StateNormal:
		return StatePaused
	case StateBlocked:
		return StatePausedBlocked
	default:
		return s
	}
}

// Resume maps a paused state back to its active counterpart:
// PAUSED->NORMAL, PAUSED_BLOCKED->BLOCKED. Other states are unchanged.
func (s State) Resume() State {
	switch s {
	case StatePaused:
		return StateNormal
	case StatePausedBlocked:
		return StateBlocked
	default:
		return s
	}
}

// Block maps an active state to its blocked counterpart: NORMAL->BLOCKED,
// PAUSED->PAUSED_BLOCKED.
func (s State) Block() State {
	switch s {
	case StateNormal:
		return StateBlocked
	case StatePaused:
		return StatePausedBlocked
	default:
		return s
	}
}

// Unblock maps a blocked state back to its active counterpart:
// BLOCKED->NORMAL, PAUSED_BLOCKED->PAUSED.
func (s State) Unblock() State {
	switch s {
	case StateBlocked:
		return StateNormal
	case StatePausedBlocked:
		return StatePaused
	default:
		return s
	}
}

// CompletionInstruction is applied by trigger_complete following a job's
// result, per the registry contract.
type CompletionInstruction int

const (
	InstructionNoop CompletionInstruction = iota
	InstructionReExecuteJob
	InstructionDeleteTrigger
	InstructionSetTriggerComplete
	InstructionSetAllJobTriggersComplete
)
