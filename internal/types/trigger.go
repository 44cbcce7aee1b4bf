package types

// TriggerKind selects which family of conditions a trigger evaluates.
type TriggerKind string

const (
	TriggerKindOnOff TriggerKind = "output_on_off"
	TriggerKindPWM   TriggerKind = "output_pwm"
)

// TriggerCondition is the state an output must reach for a trigger to fire.
type TriggerCondition string

const (
	ConditionOff TriggerCondition = "off"

	// ConditionOn matches any "on" transition regardless of duration.
	ConditionOn                     TriggerCondition = "on"
	ConditionOnNoDuration           TriggerCondition = "on_no_duration"
	ConditionOnAnyDuration          TriggerCondition = "on_any_duration"
	ConditionOnDurationEqual        TriggerCondition = "on_duration_equal"
	ConditionOnDurationGreaterThan  TriggerCondition = "on_duration_greater_than"
	ConditionOnDurationEqualGreater TriggerCondition = "on_duration_equal_greater_than"
	ConditionOnDurationLessThan     TriggerCondition = "on_duration_less_than"
	ConditionOnDurationEqualLess    TriggerCondition = "on_duration_equal_less_than"

	ConditionPWMEqual TriggerCondition = "pwm_equal"
	ConditionPWMAbove TriggerCondition = "pwm_above"
	ConditionPWMBelow TriggerCondition = "pwm_below"
)

// Valid reports whether the condition belongs to the trigger kind.
func (c TriggerCondition) Valid(kind TriggerKind) bool {
	switch kind {
	case TriggerKindOnOff:
		switch c {
		case ConditionOff, ConditionOn, ConditionOnNoDuration, ConditionOnAnyDuration,
			ConditionOnDurationEqual, ConditionOnDurationGreaterThan, ConditionOnDurationEqualGreater,
			ConditionOnDurationLessThan, ConditionOnDurationEqualLess:
			return true
		}
	case TriggerKindPWM:
		switch c {
		case ConditionPWMEqual, ConditionPWMAbove, ConditionPWMBelow:
			return true
		}
	}
	return false
}

// Trigger is a configured rule bound to one output.
type Trigger struct {
	ID        string           `json:"id" yaml:"id"`
	Name      string           `json:"name" yaml:"name"`
	OutputID  string           `json:"output_id" yaml:"output_id"`
	Kind      TriggerKind      `json:"kind" yaml:"kind"`
	Condition TriggerCondition `json:"condition" yaml:"condition"`
	Threshold float64          `json:"threshold" yaml:"threshold"`
	Active    bool             `json:"active" yaml:"active"`
}
