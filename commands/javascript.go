package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/martinemde/selfinstruct/taskloop"
)

// JavaScriptUsage describes the javascript command.
var JavaScriptUsage = taskloop.CommandUsage{
	Name:        "javascript",
	Use:         "evaluate a JavaScript expression or program and return the value of its last statement, useful for math",
	Input:       `"code": "<javascript>"`,
	Output:      "the resulting value",
	InputSchema: `{"type":"object","properties":{"code":{"type":"string","minLength":1}},"required":["code"]}`,
}

const defaultScriptTimeout = time.Second

// JavaScript evaluates code in a fresh goja runtime per call.
type JavaScript struct {
	timeout time.Duration
}

// JavaScriptOptions configures a JavaScript command.
type JavaScriptOptions struct {
	// Timeout bounds each evaluation. It accepts a duration string or
	// milliseconds.
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewJavaScript builds a JavaScript command. The timeout defaults to 1s.
func NewJavaScript(_ context.Context, config map[string]any) (taskloop.Command, error) {
	opts := JavaScriptOptions{Timeout: defaultScriptTimeout}
	if err := decodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return &JavaScript{timeout: opts.Timeout}, nil
}

type javascriptInput struct {
	Code string `json:"code"`
}

var errScriptTimeout = errors.New("script timed out")

func (j *JavaScript) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var in javascriptInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid javascript input: %w", err)
	}
	if in.Code == "" {
		return nil, fmt.Errorf("code is required")
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	vm := goja.New()
	bindConsole(ctx, vm)

	done := make(chan struct{})
	var result goja.Value
	var runErr error
	go func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		result, runErr = vm.RunString(in.Code)
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt(errScriptTimeout)
		<-done
		if parent := context.Cause(ctx); errors.Is(parent, context.Canceled) {
			return nil, parent
		}
		return nil, fmt.Errorf("%w after %s", errScriptTimeout, j.timeout)
	case <-done:
	}

	if runErr != nil {
		var exception *goja.Exception
		if errors.As(runErr, &exception) {
			return nil, fmt.Errorf("javascript error: %s", exception.Value().String())
		}
		return nil, fmt.Errorf("javascript error: %w", runErr)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

func bindConsole(ctx context.Context, vm *goja.Runtime) {
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		log.Ctx(ctx).Info().Str("command", "javascript").Msg(fmt.Sprintf("%v", args))
		return goja.Undefined()
	})
	_ = console.Set("error", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		log.Ctx(ctx).Error().Str("command", "javascript").Msg(fmt.Sprintf("%v", args))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
}
