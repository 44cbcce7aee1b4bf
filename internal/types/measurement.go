package types

import "time"

// MeasurementKind distinguishes recorded output transitions.
type MeasurementKind string

const (
	KindDuration  MeasurementKind = "duration_time"
	KindDutyCycle MeasurementKind = "duty_cycle"
)

const (
	UnitSecond  = "s"
	UnitPercent = "percent"
)

// Measurement is one recorded output transition.
// A zero Timestamp means "now" to the writer.
type Measurement struct {
	ID        string          `json:"id"`
	OutputID  string          `json:"output_id"`
	Unit      string          `json:"unit"`
	Value     float64         `json:"value"`
	Kind      MeasurementKind `json:"kind"`
	Channel   int             `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
}
