package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T, config map[string]any) *Clock {
	t.Helper()
	cmd, err := NewClock(context.Background(), config)
	require.NoError(t, err)
	clock := cmd.(*Clock)
	clock.now = func() time.Time { return time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC) }
	return clock
}

func TestClockDefaults(t *testing.T) {
	clock := fixedClock(t, nil)

	out, err := clock.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, ClockResult{Time: "2024-03-15T12:30:00Z", Timezone: "UTC", Weekday: "Friday"}, out)
}

func TestClockTimezoneOverride(t *testing.T) {
	clock := fixedClock(t, map[string]any{"layout": "15:04"})

	out, err := clock.Execute(context.Background(), json.RawMessage(`{"timezone":"Asia/Tokyo"}`))
	require.NoError(t, err)
	result := out.(ClockResult)
	assert.Equal(t, "21:30", result.Time)
	assert.Equal(t, "Asia/Tokyo", result.Timezone)

	_, err = clock.Execute(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestNewClockRejectsBadConfig(t *testing.T) {
	_, err := NewClock(context.Background(), map[string]any{"timezone": "Nowhere/Special"})
	assert.Error(t, err)

	_, err = NewClock(context.Background(), map[string]any{"timezone": 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid command options")

	_, err = NewClock(context.Background(), map[string]any{"zone": "UTC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone")
}

func TestNewClockDecodesOptions(t *testing.T) {
	cmd, err := NewClock(context.Background(), map[string]any{"timezone": "Asia/Tokyo", "layout": "15:04"})
	require.NoError(t, err)
	clock := cmd.(*Clock)
	assert.Equal(t, "Asia/Tokyo", clock.location.String())
	assert.Equal(t, "15:04", clock.layout)
}
