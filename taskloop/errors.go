package taskloop

import (
	"errors"
	"fmt"
)

// Error categories. Every concrete error below matches exactly one of these
// with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrState            = errors.New("state error")
	ErrBudget           = errors.New("budget error")
	ErrModel            = errors.New("model error")
	ErrResponseFormat   = errors.New("response format error")
	ErrUnknownDispatch  = errors.New("unknown dispatch error")
	ErrCommandExecution = errors.New("command execution error")
)

// TaskError is the base error type for the task loop.
type TaskError struct {
	Message string
	Cause   error
}

func (e *TaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// ReservedNameError reports a registration using a missing or reserved name.
type ReservedNameError struct {
	TaskError
	Name string
}

func (e *ReservedNameError) Is(target error) bool { return target == ErrConfiguration }

// DuplicateCommandError reports a second registration of a name without replace.
type DuplicateCommandError struct {
	TaskError
	Name string
}

func (e *DuplicateCommandError) Is(target error) bool { return target == ErrConfiguration }

// UnknownCommandError reports a configured name that was never registered.
type UnknownCommandError struct {
	TaskError
	Name string
}

func (e *UnknownCommandError) Is(target error) bool { return target == ErrConfiguration }

// AlreadyConfiguredError is returned by a second ConfigureCommands call.
type AlreadyConfiguredError struct{ TaskError }

func (e *AlreadyConfiguredError) Is(target error) bool { return target == ErrConfiguration }

// NotConfiguredError is returned when a task is run before ConfigureCommands.
type NotConfiguredError struct{ TaskError }

func (e *NotConfiguredError) Is(target error) bool { return target == ErrConfiguration }

// NotInTaskError is returned by ContinueTask when no task is active.
type NotInTaskError struct{ TaskError }

func (e *NotInTaskError) Is(target error) bool { return target == ErrState }

// PromptTooLargeError reports a prompt that does not fit the input budget even
// after dropping history.
type PromptTooLargeError struct {
	TaskError
	Tokens int
	Limit  int
}

func (e *PromptTooLargeError) Is(target error) bool { return target == ErrBudget }

// ModelUnavailableError wraps the last model client error once retries are
// exhausted or the error is not retryable.
type ModelUnavailableError struct {
	TaskError
	Attempts int
}

func (e *ModelUnavailableError) Is(target error) bool { return target == ErrModel }

// MalformedResponseError reports model output that could not be decoded twice
// in a row.
type MalformedResponseError struct {
	TaskError
	Raw string
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrResponseFormat }

// UnknownDispatchError reports a command name the model chose twice in a row
// that is neither reserved nor configured.
type UnknownDispatchError struct {
	TaskError
	Name string
}

func (e *UnknownDispatchError) Is(target error) bool { return target == ErrUnknownDispatch }

// CommandExecutionError wraps a command failure. It is folded into history as
// the turn's result and never returned from the task entry points.
type CommandExecutionError struct {
	TaskError
	Command string
}

func (e *CommandExecutionError) Is(target error) bool { return target == ErrCommandExecution }

func newReservedNameError(name string) error {
	return &ReservedNameError{
		TaskError: TaskError{Message: fmt.Sprintf("the command name %q is either missing or reserved", name)},
		Name:      name,
	}
}

func newDuplicateCommandError(name string) error {
	return &DuplicateCommandError{
		TaskError: TaskError{Message: fmt.Sprintf("the command name %q has already been registered", name)},
		Name:      name,
	}
}

func newUnknownCommandError(name string) error {
	return &UnknownCommandError{
		TaskError: TaskError{Message: fmt.Sprintf("command %q was configured but has not been registered", name)},
		Name:      name,
	}
}

func newCommandExecutionError(name string, cause error) *CommandExecutionError {
	return &CommandExecutionError{
		TaskError: TaskError{Message: fmt.Sprintf("command %s failed", name), Cause: cause},
		Command:   name,
	}
}
