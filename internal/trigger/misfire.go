package trigger

// MisfireInstruction selects how a trigger catches up after its
// next_fire_time has fallen more than the misfire threshold behind wall
// clock. SMART_POLICY is resolved to a concrete instruction per trigger
// variant by resolvedMisfireInstruction.
type MisfireInstruction int

const (
	MisfireSmartPolicy MisfireInstruction = iota
	MisfireFireNow
	MisfireFireOnceNow
	MisfireDoNothing
	MisfireRescheduleNextWithExistingCount
	MisfireRescheduleNextWithRemainingCount
	MisfireRescheduleNowWithExistingCount
	MisfireIgnorePolicy
)

func (m MisfireInstruction) String() string {
	switch m {
	case MisfireSmartPolicy:
		return "SMART_POLICY"
	case MisfireFireNow:
		return "FIRE_NOW"
	case MisfireFireOnceNow:
		return "FIRE_ONCE_NOW"
	case MisfireDoNothing:
		return "DO_NOTHING"
	case MisfireRescheduleNextWithExistingCount:
		return "RESCHEDULE_NEXT_WITH_EXISTING_COUNT"
	case MisfireRescheduleNextWithRemainingCount:
		return "RESCHEDULE_NEXT_WITH_REMAINING_COUNT"
	case MisfireRescheduleNowWithExistingCount:
		return "RESCHEDULE_NOW_WITH_EXISTING_COUNT"
	case MisfireIgnorePolicy:
		return "IGNORE_MISFIRE_POLICY"
	default:
		return "UNKNOWN"
	}
}

// validMisfireInstruction reports whether instr is a legal misfire instruction for a
// trigger of the given kind. SMART_POLICY, DO_NOTHING and
// IGNORE_MISFIRE_POLICY are universal; the rest are variant-specific.
func validMisfireInstruction(k Kind, instr MisfireInstruction) bool {
	switch instr {
	case MisfireSmartPolicy, MisfireDoNothing, MisfireIgnorePolicy:
		return true
	}
	switch k {
	case KindSimple:
		switch instr {
		case MisfireFireNow,
			MisfireRescheduleNextWithExistingCount,
			MisfireRescheduleNextWithRemainingCount,
			MisfireRescheduleNowWithExistingCount:
			return true
		}
	case KindCron:
		switch instr {
		case MisfireFireOnceNow:
			return true
		}
	}
	return false
}

// resolvedMisfireInstruction translates SMART_POLICY into a concrete
// instruction for this trigger's variant and current configuration; any
// other instruction passes through unchanged.
func (t *Trigger) resolvedMisfireInstruction() MisfireInstruction {
	if t.MisfireInstruction != MisfireSmartPolicy {
		return t.MisfireInstruction
	}
	switch t.Kind {
	case KindSimple:
		switch {
		case t.Simple.RepeatCount == 0:
			return MisfireFireNow
		case t.Simple.RepeatCount == RepeatIndefinitely:
			return MisfireRescheduleNextWithRemainingCount
		default:
			return MisfireRescheduleNowWithExistingCount
		}
	case KindCron:
		return MisfireFireOnceNow
	default:
		return MisfireDoNothing
	}
}
