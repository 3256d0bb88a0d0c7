package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/selfinstruct/taskloop"
)

func newJS(t *testing.T, config map[string]any) taskloop.Command {
	t.Helper()
	cmd, err := NewJavaScript(context.Background(), config)
	require.NoError(t, err)
	return cmd
}

func runJS(t *testing.T, cmd taskloop.Command, code string) (any, error) {
	t.Helper()
	input, err := json.Marshal(map[string]string{"code": code})
	require.NoError(t, err)
	return cmd.Execute(context.Background(), input)
}

func TestJavaScriptEvaluates(t *testing.T) {
	cmd := newJS(t, nil)

	tests := []struct {
		name string
		code string
		want any
	}{
		{"arithmetic", "2 + 2", int64(4)},
		{"float", "Math.sqrt(2.25)", 1.5},
		{"string", "'a' + 'b'", "ab"},
		{"last statement", "var x = 10; x * 3", int64(30)},
		{"object", "({n: 1})", map[string]any{"n": int64(1)}},
		{"undefined", "undefined", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runJS(t, cmd, tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJavaScriptIsolatedRuns(t *testing.T) {
	cmd := newJS(t, nil)
	_, err := runJS(t, cmd, "var leaked = 1")
	require.NoError(t, err)

	_, err = runJS(t, cmd, "leaked")
	assert.Error(t, err)
}

func TestJavaScriptErrors(t *testing.T) {
	cmd := newJS(t, nil)

	_, err := runJS(t, cmd, "throw new Error('nope')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	_, err = runJS(t, cmd, "function (")
	assert.Error(t, err)

	_, err = cmd.Execute(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestJavaScriptTimeout(t *testing.T) {
	cmd := newJS(t, map[string]any{"timeout": "20ms"})

	start := time.Now()
	_, err := runJS(t, cmd, "while (true) {}")
	require.ErrorIs(t, err, errScriptTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewJavaScriptOptions(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		want    time.Duration
		wantErr string
	}{
		{name: "default", config: nil, want: time.Second},
		{name: "milliseconds float", config: map[string]any{"timeout": float64(250)}, want: 250 * time.Millisecond},
		{name: "milliseconds int64", config: map[string]any{"timeout": int64(40)}, want: 40 * time.Millisecond},
		{name: "duration string", config: map[string]any{"timeout": "1.5s"}, want: 1500 * time.Millisecond},
		{name: "wrong type", config: map[string]any{"timeout": true}, wantErr: "invalid command options"},
		{name: "negative", config: map[string]any{"timeout": "-1s"}, wantErr: "timeout must be positive"},
		{name: "unknown option", config: map[string]any{"timout": "1s"}, wantErr: "timout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := NewJavaScript(context.Background(), tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.(*JavaScript).timeout)
		})
	}
}

func TestRegister(t *testing.T) {
	registry := taskloop.NewRegistry()
	require.NoError(t, Register(registry))
	assert.Equal(t, []string{"clock", "javascript"}, registry.Names())

	reg, ok := registry.Lookup("javascript")
	require.True(t, ok)
	assert.Error(t, reg.ValidateInput(json.RawMessage(`{"code":""}`)))
	assert.NoError(t, reg.ValidateInput(json.RawMessage(`{"code":"1"}`)))

	assert.Error(t, Register(registry))
}
