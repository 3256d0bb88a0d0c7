// Package commands provides sample commands for the task loop.
package commands

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/martinemde/selfinstruct/taskloop"
)

// Register adds every command in this package to registry.
func Register(registry *taskloop.Registry) error {
	if err := registry.Register(NewClock, ClockUsage, false); err != nil {
		return err
	}
	return registry.Register(NewJavaScript, JavaScriptUsage, false)
}

// decodeOptions decodes a command's configuration map into out. Durations
// accept a duration string or a number of milliseconds. Unknown keys are
// rejected.
func decodeOptions(config map[string]any, out any) error {
	if len(config) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisecondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("invalid command options: %w", err)
	}
	return nil
}

func millisecondsToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch n := data.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case int64:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n * float64(time.Millisecond)), nil
	}
	return data, nil
}
