package memory

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
max_amps: 7.5
outputs:
  - id: pump
    name: Pump
    device_type: simulated
    capability: on_off
    amps: 2.5
    startup_policy: "off"
    options:
      initial: false
  - id: fan
    name: Fan
    device_type: simulated
    capability: pwm
    amps: 0.8
    pwm_hertz: 1000
    last_duty_cycle: 35
triggers:
  - id: long-pump
    name: Long pump run
    output_id: pump
    kind: output_on_off
    condition: on_duration_greater_than
    threshold: 5
    active: true
`

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	s := New(15)
	require.NoError(t, s.LoadSeed([]byte(seed)))

	maxAmps, err := s.MaxAmps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.5, maxAmps)

	outputs, err := s.LoadOutputs(ctx)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "fan", outputs[0].ID)
	assert.Equal(t, types.CapabilityPWM, outputs[0].Capability)
	assert.Equal(t, 35.0, outputs[0].LastDutyCycle)
	assert.Equal(t, types.PolicyOff, outputs[1].StartupPolicy)
	assert.Equal(t, false, outputs[1].Options["initial"])

	triggers, err := s.ListOutputTriggers(ctx, "pump")
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, types.ConditionOnDurationGreaterThan, triggers[0].Condition)
	assert.Equal(t, 5.0, triggers[0].Threshold)
}

func TestLoadSeedRejectsDanglingTrigger(t *testing.T) {
	s := New(15)
	err := s.LoadSeed([]byte(`
triggers:
  - id: t
    output_id: missing
    kind: output_on_off
    condition: "off"
`))
	require.Error(t, err)
}

func TestSaveOutputKeepsRuntimeFields(t *testing.T) {
	ctx := context.Background()
	s := New(15)
	require.NoError(t, s.SaveOutput(ctx, types.Output{ID: "a", Amps: 1}))

	until := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetOffUntil(ctx, "a", &until))
	require.NoError(t, s.SetLastDutyCycle(ctx, "a", 40))

	require.NoError(t, s.SaveOutput(ctx, types.Output{ID: "a", Amps: 2}))
	out, err := s.GetOutput(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Amps)
	assert.Equal(t, 40.0, out.LastDutyCycle)
	require.NotNil(t, out.OffUntil)
	assert.True(t, out.OffUntil.Equal(until))

	require.NoError(t, s.SetOffUntil(ctx, "a", nil))
	out, err = s.GetOutput(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, out.OffUntil)
}

func TestDeleteOutputRemovesTriggers(t *testing.T) {
	ctx := context.Background()
	s := New(15)
	require.NoError(t, s.SaveOutput(ctx, types.Output{ID: "a"}))
	require.NoError(t, s.SaveTrigger(ctx, types.Trigger{ID: "t", OutputID: "a"}))

	require.NoError(t, s.DeleteOutput(ctx, "a"))
	triggers, err := s.ListTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	_, err = s.GetOutput(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteOutput(ctx, "a"), storage.ErrNotFound)
	assert.ErrorIs(t, s.SaveTrigger(ctx, types.Trigger{ID: "t", OutputID: "a"}), storage.ErrNotFound)
}

func TestRecentMeasurementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(15)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteMeasurement(ctx, types.Measurement{
			OutputID:  "a",
			Value:     float64(i),
			Kind:      types.KindDuration,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	ms, err := s.RecentMeasurements(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, 4.0, ms[0].Value)
	assert.Equal(t, 2.0, ms[2].Value)
	assert.NotEmpty(t, ms[0].ID)
}
