package taskloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/martinemde/selfinstruct/unifiedllm"
)

// loopState is a node of the task loop state machine.
type loopState int

const (
	stateBuildPrompt loopState = iota
	stateCheckBudget
	stateInvokeModel
	stateParseResponse
	stateDispatch
	stateExecuteCommand
	stateAsk
	stateFinalAnswer
	stateTooManySteps
)

func (s loopState) String() string {
	switch s {
	case stateBuildPrompt:
		return "build_prompt"
	case stateCheckBudget:
		return "check_budget"
	case stateInvokeModel:
		return "invoke_model"
	case stateParseResponse:
		return "parse_response"
	case stateDispatch:
		return "dispatch"
	case stateExecuteCommand:
		return "execute_command"
	case stateAsk:
		return "ask"
	case stateFinalAnswer:
		return "final_answer"
	case stateTooManySteps:
		return "too_many_steps"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// maxCorrections is how many consecutive unusable replies (malformed or
// naming an unknown command) are answered with a corrective prompt before
// the task fails.
const maxCorrections = 1

// taskRun holds the working state of one loop invocation. Memory is only
// written on terminal outcomes, so a failed call leaves it untouched.
type taskRun struct {
	m        *TaskManager
	settings ModelSettings
	memory   Memory
	builder  *PromptBuilder
	taskID   string

	history     []Turn
	pending     string
	extras      []unifiedllm.Message
	steps       int
	corrections int
	usage       unifiedllm.Usage

	prompt   BuiltPrompt
	raw      string
	response PromptResponse
	command  configuredCommand
}

func (m *TaskManager) runTaskLoop(ctx context.Context, settings ModelSettings, memory Memory, history []Turn, userMessage string) (TaskResult, error) {
	run := &taskRun{
		m:        m,
		settings: settings,
		memory:   memory,
		builder:  m.promptBuilder(),
		taskID:   uuid.New().String(),
		history:  history,
		pending:  userMessage,
	}

	logger := log.Ctx(ctx).With().Str("task_id", run.taskID).Str("model", settings.Model).Logger()
	ctx = logger.WithContext(ctx)

	logger.Debug().Int("history", len(history)).Msg("task loop started")
	m.config.Events.Emit(run.taskID, EventTaskStart, map[string]any{
		"model":   settings.Model,
		"history": len(history),
	})

	result, err := run.loop(ctx)
	if err != nil {
		logger.Error().Err(err).Int("steps", run.steps).Msg("task loop failed")
		m.config.Events.Emit(run.taskID, EventError, map[string]any{"error": err.Error()})
		return TaskResult{}, err
	}

	logger.Info().
		Str("status", string(result.Status)).
		Int("steps", run.steps).
		Int("total_tokens", run.usage.TotalTokens).
		Msg("task loop finished")
	m.config.Events.Emit(run.taskID, EventTaskEnd, map[string]any{
		"status": string(result.Status),
		"steps":  run.steps,
		"usage":  run.usage,
	})
	return result, nil
}

func (r *taskRun) loop(ctx context.Context) (TaskResult, error) {
	// Each model call passes through at most six states, and there are at
	// most 1+maxCorrections calls per step.
	limit := (r.m.config.MaxSteps + 1) * (1 + maxCorrections) * 8

	state := stateBuildPrompt
	for i := 0; i < limit; i++ {
		var err error
		switch state {
		case stateBuildPrompt:
			state, err = r.buildPrompt()
		case stateCheckBudget:
			state, err = r.checkBudget(ctx)
		case stateInvokeModel:
			state, err = r.invokeModel(ctx)
		case stateParseResponse:
			state, err = r.parseResponse(ctx)
		case stateDispatch:
			state, err = r.dispatch(ctx)
		case stateExecuteCommand:
			state, err = r.executeCommand(ctx)
		case stateAsk:
			r.appendTurn(NewTurn(r.pending, r.response))
			r.commit(true)
			return TaskResult{
				Status:   StatusInputNeeded,
				Response: inputField(r.response.Command.Input, "question"),
			}, nil
		case stateFinalAnswer:
			r.appendTurn(NewTurn(r.pending, r.response))
			r.commit(false)
			return TaskResult{
				Status:   StatusCompleted,
				Response: inputField(r.response.Command.Input, "answer"),
			}, nil
		case stateTooManySteps:
			r.commit(false)
			return TaskResult{
				Status:   StatusTooManySteps,
				Response: TooManyStepsResponse,
			}, nil
		default:
			return TaskResult{}, fmt.Errorf("task loop reached unknown state %s", state)
		}
		if err != nil {
			return TaskResult{}, err
		}
	}
	return TaskResult{}, fmt.Errorf("task loop exceeded %d transitions in state %s", limit, state)
}

func (r *taskRun) buildPrompt() (loopState, error) {
	prompt, err := r.builder.Build(r.history, r.pending, r.extras, 0)
	if err != nil {
		return stateBuildPrompt, err
	}
	r.prompt = prompt
	return stateCheckBudget, nil
}

// checkBudget verifies prompt tokens plus the completion reserve fit the
// model's input limit, dropping the oldest turns from the prompt if needed.
func (r *taskRun) checkBudget(ctx context.Context) (loopState, error) {
	limit := r.settings.inputLimit()
	if limit <= 0 {
		return stateInvokeModel, nil
	}
	budget := limit - r.settings.MaxTokens
	if budget <= 0 {
		return stateCheckBudget, &PromptTooLargeError{
			TaskError: TaskError{Message: fmt.Sprintf("max tokens %d leaves no room in the %d token input limit", r.settings.MaxTokens, limit)},
			Tokens:    r.prompt.Tokens,
			Limit:     budget,
		}
	}
	if r.prompt.Tokens <= budget {
		return stateInvokeModel, nil
	}

	prompt, err := r.builder.Build(r.history, r.pending, r.extras, budget)
	if err != nil {
		return stateCheckBudget, err
	}
	log.Ctx(ctx).Info().
		Int("dropped_turns", prompt.Dropped).
		Int("tokens", prompt.Tokens).
		Int("budget", budget).
		Msg("truncated task history to fit prompt budget")
	r.m.config.Events.Emit(r.taskID, EventTruncation, map[string]any{
		"dropped_turns": prompt.Dropped,
		"tokens":        prompt.Tokens,
		"budget":        budget,
	})
	r.prompt = prompt
	return stateInvokeModel, nil
}

func (r *taskRun) invokeModel(ctx context.Context) (loopState, error) {
	req := r.settings.request(r.prompt.Messages)
	attempts := 0
	resp, err := unifiedllm.Retry(ctx, r.m.retryPolicy(ctx, r.taskID), func(ctx context.Context) (*unifiedllm.Response, error) {
		attempts++
		return r.m.config.Client.Complete(ctx, req)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stateInvokeModel, fmt.Errorf("task cancelled during model call: %w", ctxErr)
		}
		return stateInvokeModel, &ModelUnavailableError{
			TaskError: TaskError{Message: fmt.Sprintf("model %s is unavailable", r.settings.Model), Cause: err},
			Attempts:  attempts,
		}
	}

	r.raw = resp.Text()
	r.usage = r.usage.Add(resp.Usage)
	r.m.config.Events.Emit(r.taskID, EventModelResponse, map[string]any{
		"response_id": resp.ID,
		"text":        r.raw,
		"usage":       resp.Usage,
	})
	return stateParseResponse, nil
}

func (r *taskRun) parseResponse(ctx context.Context) (loopState, error) {
	response, err := ParseResponse(r.raw)
	if err != nil {
		if r.corrections >= maxCorrections {
			return stateParseResponse, &MalformedResponseError{
				TaskError: TaskError{Message: "model response could not be parsed", Cause: err},
				Raw:       r.raw,
			}
		}
		r.correct(ctx, "malformed_response", err, correctionMessages(r.raw, err))
		return stateBuildPrompt, nil
	}

	r.response = response
	log.Ctx(ctx).Debug().
		Str("command", response.Command.Name).
		Str("thought", response.Thoughts.Thought).
		Msg("model chose command")
	return stateDispatch, nil
}

func (r *taskRun) dispatch(ctx context.Context) (loopState, error) {
	name := CanonicalName(r.response.Command.Name)
	switch name {
	case CanonicalName(AskCommand):
		return stateAsk, nil
	case CanonicalName(FinalAnswerCommand):
		return stateFinalAnswer, nil
	}

	cmd, ok := r.m.command(name)
	if !ok {
		err := fmt.Errorf("unknown command %q", r.response.Command.Name)
		if r.corrections >= maxCorrections {
			return stateDispatch, &UnknownDispatchError{
				TaskError: TaskError{Message: fmt.Sprintf("model chose unknown command %q", r.response.Command.Name)},
				Name:      r.response.Command.Name,
			}
		}
		r.correct(ctx, "unknown_command", err, unknownCommandMessages(r.response, r.m.commandNames()))
		return stateBuildPrompt, nil
	}

	r.command = cmd
	return stateExecuteCommand, nil
}

func (r *taskRun) executeCommand(ctx context.Context) (loopState, error) {
	name := r.command.registration.Usage.Name
	input := r.response.Command.Input
	logger := log.Ctx(ctx).With().Str("command", name).Logger()

	r.m.config.Events.Emit(r.taskID, EventCommandStart, map[string]any{
		"command": name,
		"input":   string(input),
	})

	turn := NewTurn(r.pending, r.response)
	if err := r.command.registration.ValidateInput(input); err != nil {
		turn.Result = fmt.Sprintf("invalid input: %v", err)
		turn.IsError = true
		logger.Warn().Err(err).Msg("command input failed schema validation")
	} else {
		value, err := r.command.command.Execute(ctx, input)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stateExecuteCommand, fmt.Errorf("task cancelled during command %s: %w", name, ctxErr)
		}
		if err != nil {
			execErr := newCommandExecutionError(name, err)
			turn.Result = err.Error()
			turn.IsError = true
			logger.Warn().Err(execErr).Msg("command failed")
		} else {
			full := renderResult(value)
			turn.Result = TruncateResult(full, r.m.config.MaxResultChars)
			if len(turn.Result) != len(full) {
				logger.Debug().Int("chars", len(full)).Msg("command result truncated")
			}
		}
	}

	r.m.config.Events.Emit(r.taskID, EventCommandEnd, map[string]any{
		"command":  name,
		"result":   turn.Result,
		"is_error": turn.IsError,
	})

	r.appendTurn(turn)
	r.pending = ""
	r.extras = nil
	r.corrections = 0
	r.steps++

	if r.steps >= r.m.config.MaxSteps {
		return stateTooManySteps, nil
	}

	if DetectRepeat(r.history, r.m.config.RepeatWindow) {
		warning := repeatWarning(r.m.config.RepeatWindow)
		r.extras = []unifiedllm.Message{unifiedllm.UserMessage(warning)}
		logger.Warn().Int("window", r.m.config.RepeatWindow).Msg("repeated command detected")
		r.m.config.Events.Emit(r.taskID, EventRepeat, map[string]any{"message": warning})
	}
	return stateBuildPrompt, nil
}

func (r *taskRun) correct(ctx context.Context, reason string, cause error, messages []unifiedllm.Message) {
	r.corrections++
	r.extras = messages
	log.Ctx(ctx).Warn().Err(cause).Str("reason", reason).Msg("sending corrective prompt")
	r.m.config.Events.Emit(r.taskID, EventCorrection, map[string]any{
		"reason": reason,
		"error":  cause.Error(),
	})
}

func (r *taskRun) appendTurn(turn Turn) {
	r.history = append(r.history, turn)
}

// commit writes the history and active-task flag back to memory.
func (r *taskRun) commit(inTask bool) {
	history := make([]Turn, len(r.history))
	copy(history, r.history)
	r.memory.Set(TaskHistoryKey, history)
	r.memory.Set(InTaskKey, inTask)
}

// IsCancellation reports whether err came from the caller's context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
