package taskloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/martinemde/selfinstruct/unifiedllm"
)

// DefaultMaxSteps is the number of commands a task may execute without user
// input.
const DefaultMaxSteps = 5

// ModelClient is the model-calling client. *unifiedllm.Client satisfies it.
type ModelClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// ModelSettings controls one model call.
type ModelSettings struct {
	Model    string `json:"model" toml:"model" validate:"required"`
	Provider string `json:"provider,omitempty" toml:"provider"`

	// MaxInputTokens bounds prompt plus completion. Zero uses the model's
	// catalog context window; unknown models skip the budget check.
	MaxInputTokens   int            `json:"max_input_tokens,omitempty" toml:"max_input_tokens" validate:"gte=0"`
	Temperature      *float64       `json:"temperature,omitempty" toml:"temperature" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64       `json:"top_p,omitempty" toml:"top_p" validate:"omitempty,gte=0,lte=1"`
	MaxTokens        int            `json:"max_tokens,omitempty" toml:"max_tokens" validate:"gte=0"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty" toml:"presence_penalty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty" toml:"frequency_penalty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty" toml:"logit_bias"`
}

// DefaultModelSettings returns the settings used when a task model is unset.
func DefaultModelSettings() ModelSettings {
	temperature := 0.0
	return ModelSettings{
		Model:       "gpt-3.5-turbo",
		Temperature: &temperature,
		MaxTokens:   800,
	}
}

func (s ModelSettings) inputLimit() int {
	if s.MaxInputTokens > 0 {
		return s.MaxInputTokens
	}
	return unifiedllm.ContextWindow(s.Model)
}

func (s ModelSettings) request(messages []unifiedllm.Message) unifiedllm.Request {
	req := unifiedllm.Request{
		Model:            s.Model,
		Provider:         s.Provider,
		Messages:         messages,
		ResponseFormat:   &unifiedllm.ResponseFormat{Type: "json"},
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		PresencePenalty:  s.PresencePenalty,
		FrequencyPenalty: s.FrequencyPenalty,
		LogitBias:        s.LogitBias,
	}
	if s.MaxTokens > 0 {
		maxTokens := s.MaxTokens
		req.MaxTokens = &maxTokens
	}
	return req
}

// Config configures a TaskManager.
type Config struct {
	// Prompt is the application's core instructions.
	Prompt string      `validate:"required"`
	Client ModelClient `validate:"required"`

	NewTaskModel      *ModelSettings `validate:"omitempty"`
	ContinueTaskModel *ModelSettings `validate:"omitempty"`
	AdditionalRules   []string

	// LeadResponse is a canned first reply showing the model the response
	// format. It precedes the history in every prompt.
	LeadResponse *PromptResponse

	MaxSteps       int `validate:"gte=0"`
	RetryPolicy    *unifiedllm.RetryPolicy
	TokenCounter   unifiedllm.TokenCounter
	MaxResultChars int `validate:"gte=0"`
	RepeatWindow   int `validate:"gte=0"`

	// Events receives task events when set.
	Events *EventEmitter
}

// TaskStatus is the outcome of a task call.
type TaskStatus string

const (
	StatusInputNeeded  TaskStatus = "input_needed"
	StatusCompleted    TaskStatus = "completed"
	StatusTooManySteps TaskStatus = "too_many_steps"
)

// TooManyStepsResponse is the response text for StatusTooManySteps.
const TooManyStepsResponse = "I'm sorry, I wasn't able to finish the task in the number of steps allowed."

// TaskResult is returned by every task entry point.
type TaskResult struct {
	Status   TaskStatus `json:"status"`
	Response string     `json:"response"`
}

type configuredCommand struct {
	command      Command
	registration CommandRegistration
}

// TaskManager runs tasks against a Memory using a configured command set.
// A manager may serve many memories concurrently, but each memory must only
// run one task call at a time.
type TaskManager struct {
	config    Config
	registry  *Registry
	newModel  ModelSettings
	contModel ModelSettings

	mu          sync.RWMutex
	configured  bool
	commands    map[string]configuredCommand
	usages      []CommandUsage
	usage       string
	usageTokens int
}

var validate = validator.New()

// NewTaskManager validates cfg and creates a manager resolving commands from
// registry.
func NewTaskManager(cfg Config, registry *Registry) (*TaskManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfiguration)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxResultChars == 0 {
		cfg.MaxResultChars = DefaultMaxResultChars
	}
	if cfg.RepeatWindow == 0 {
		cfg.RepeatWindow = DefaultRepeatWindow
	}
	if cfg.TokenCounter == nil {
		cfg.TokenCounter = unifiedllm.EstimateTokens
	}
	if cfg.RetryPolicy == nil {
		policy := unifiedllm.DefaultRetryPolicy()
		cfg.RetryPolicy = &policy
	}

	m := &TaskManager{
		config:    cfg,
		registry:  registry,
		newModel:  DefaultModelSettings(),
		contModel: DefaultModelSettings(),
	}
	if cfg.NewTaskModel != nil {
		m.newModel = *cfg.NewTaskModel
	}
	if cfg.ContinueTaskModel != nil {
		m.contModel = *cfg.ContinueTaskModel
	}
	return m, nil
}

// ConfigureCommands installs the manager's command set. Commands appear in
// the usage block in the given order after ask and finalAnswer. The call is
// atomic: on failure the manager stays unconfigured and the call may be
// retried. It succeeds at most once.
func (m *TaskManager) ConfigureCommands(ctx context.Context, selected []CommandConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configured {
		return &AlreadyConfiguredError{TaskError: TaskError{
			Message: "the commands for this task manager have already been configured",
		}}
	}

	commands := make(map[string]configuredCommand, len(selected))
	usages := make([]CommandUsage, 0, len(selected))
	for _, sel := range selected {
		key := CanonicalName(sel.Name)
		if _, dup := commands[key]; dup {
			return newDuplicateCommandError(sel.Name)
		}
		reg, ok := m.registry.Lookup(key)
		if !ok {
			return newUnknownCommandError(sel.Name)
		}

		config := sel.Config
		if config == nil {
			config = map[string]any{}
		}
		instance, err := reg.Factory(ctx, config)
		if err != nil {
			return fmt.Errorf("%w: command %q factory failed: %w", ErrConfiguration, sel.Name, err)
		}
		if instance == nil {
			return fmt.Errorf("%w: command %q factory returned no command", ErrConfiguration, sel.Name)
		}

		commands[key] = configuredCommand{command: instance, registration: reg}
		usages = append(usages, reg.Usage)
	}

	usage := FormatUsageBlock(usages)
	m.commands = commands
	m.usages = usages
	m.usage = usage
	m.usageTokens = m.config.TokenCounter(usage)
	m.configured = true

	log.Ctx(ctx).Debug().
		Int("commands", len(commands)).
		Int("usage_tokens", m.usageTokens).
		Msg("task manager commands configured")
	return nil
}

// Configured reports whether ConfigureCommands has succeeded.
func (m *TaskManager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configured
}

// Usage returns the rendered usage block, or "" before configuration.
func (m *TaskManager) Usage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage
}

// InTask reports whether memory has an active task.
func (m *TaskManager) InTask(memory Memory) bool {
	return isInTask(memory)
}

// CompleteTask continues the active task in memory, or starts a new one.
func (m *TaskManager) CompleteTask(ctx context.Context, memory Memory, userMessage string) (TaskResult, error) {
	if isInTask(memory) {
		return m.ContinueTask(ctx, memory, userMessage)
	}
	return m.NewTask(ctx, memory, userMessage)
}

// NewTask starts a task from an empty history and runs the loop with the
// new-task model settings. userMessage may be empty. The previous history
// and flag are replaced only when the loop reaches an outcome.
func (m *TaskManager) NewTask(ctx context.Context, memory Memory, userMessage string) (TaskResult, error) {
	if err := m.checkConfigured(); err != nil {
		return TaskResult{}, err
	}
	return m.runTaskLoop(ctx, m.newModel, memory, []Turn{}, userMessage)
}

// ContinueTask runs the loop for the active task with the continue-task
// model settings.
func (m *TaskManager) ContinueTask(ctx context.Context, memory Memory, userMessage string) (TaskResult, error) {
	if err := m.checkConfigured(); err != nil {
		return TaskResult{}, err
	}
	if !isInTask(memory) {
		return TaskResult{}, &NotInTaskError{TaskError: TaskError{
			Message: "ContinueTask was called but no task is active",
		}}
	}
	history, err := loadHistory(memory)
	if err != nil {
		return TaskResult{}, err
	}
	return m.runTaskLoop(ctx, m.contModel, memory, history, userMessage)
}

func (m *TaskManager) checkConfigured() error {
	if !m.Configured() {
		return &NotConfiguredError{TaskError: TaskError{
			Message: "ConfigureCommands must be called before running a task",
		}}
	}
	return nil
}

func (m *TaskManager) command(name string) (configuredCommand, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.commands[CanonicalName(name)]
	return cmd, ok
}

func (m *TaskManager) commandNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := []string{AskCommand, FinalAnswerCommand}
	for _, u := range m.usages {
		names = append(names, u.Name)
	}
	return names
}

func (m *TaskManager) promptBuilder() *PromptBuilder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &PromptBuilder{
		Prompt:       m.config.Prompt,
		Rules:        m.config.AdditionalRules,
		Usage:        m.usage,
		UsageTokens:  m.usageTokens,
		LeadResponse: m.config.LeadResponse,
		Count:        m.config.TokenCounter,
	}
}

func (m *TaskManager) retryPolicy(ctx context.Context, taskID string) unifiedllm.RetryPolicy {
	policy := *m.config.RetryPolicy
	next := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("task_id", taskID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying model call")
		if next != nil {
			next(err, attempt, delay)
		}
	}
	return policy
}
