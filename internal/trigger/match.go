package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
)

// Matches reports whether t fires for the transition.
func Matches(t types.Trigger, tr output.Transition) bool {
	if !t.Active || t.OutputID != tr.Output.ID {
		return false
	}

	switch t.Kind {
	case types.TriggerKindOnOff:
		return matchOnOff(t, tr)
	case types.TriggerKindPWM:
		return tr.Output.Capability == types.CapabilityPWM && matchPWM(t, tr)
	}
	return false
}

func matchOnOff(t types.Trigger, tr output.Transition) bool {
	if t.Condition == types.ConditionOff {
		return tr.State == types.StateOff
	}
	if tr.State != types.StateOn {
		return false
	}

	amount := tr.Amount
	switch t.Condition {
	case types.ConditionOn:
		return true
	case types.ConditionOnNoDuration:
		return amount == 0
	case types.ConditionOnAnyDuration:
		return amount != 0
	case types.ConditionOnDurationEqual:
		return amount == t.Threshold
	case types.ConditionOnDurationGreaterThan:
		return amount > t.Threshold
	case types.ConditionOnDurationEqualGreater:
		return amount >= t.Threshold
	case types.ConditionOnDurationLessThan:
		return amount < t.Threshold
	case types.ConditionOnDurationEqualLess:
		return amount <= t.Threshold
	}
	return false
}

// matchPWM compares the logical duty cycle. An output that is off counts as
// 0% whether or not its signal is inverted.
func matchPWM(t types.Trigger, tr output.Transition) bool {
	duty := tr.DutyCycle
	if tr.State == types.StateOff {
		duty = 0
	}

	switch t.Condition {
	case types.ConditionPWMEqual:
		return duty == t.Threshold
	case types.ConditionPWMAbove:
		return duty > t.Threshold
	case types.ConditionPWMBelow:
		return duty < t.Threshold
	}
	return false
}

// Message is the text handed to the action dispatcher.
func Message(t types.Trigger, tr output.Transition) string {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [Trigger %s (%s)] Output %s (%s) ",
		at.Format(time.RFC3339), t.ID, t.Name, tr.Output.ID, tr.Output.Name)

	switch {
	case tr.Output.Capability == types.CapabilityPWM && tr.State == types.StateOn:
		fmt.Fprintf(&b, "duty cycle %g%%", tr.DutyCycle)
	case tr.State == types.StateOn && tr.Amount != 0:
		fmt.Fprintf(&b, "on for %g seconds", tr.Amount)
	default:
		b.WriteString(string(tr.State))
	}

	return b.String()
}
