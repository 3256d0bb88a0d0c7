// Package config loads the selfinstruct CLI configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/martinemde/selfinstruct/taskloop"
	"github.com/martinemde/selfinstruct/unifiedllm"
)

// FormatVersion is the current version of the configuration file format.
const FormatVersion = "0.1.0"

// DefaultPrompt is used when the file does not set task.prompt.
const DefaultPrompt = "You are a helpful assistant. Complete the user's request using the commands available to you."

// File is the decoded configuration file.
type File struct {
	FormatVersion string `toml:"format_version" validate:"required,eq=0.1.0"`
	LogLevel      string `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error disabled"`

	// StateDB is the SQLite database holding conversations. "~" expands to
	// the home directory.
	StateDB      string `toml:"state_db"`
	Conversation string `toml:"conversation" validate:"required"`

	Task     TaskConfig      `toml:"task"`
	Retry    RetryConfig     `toml:"retry"`
	Commands []CommandConfig `toml:"commands" validate:"dive"`
}

// TaskConfig configures the task manager.
type TaskConfig struct {
	Prompt            string                  `toml:"prompt" validate:"required"`
	Provider          string                  `toml:"provider" validate:"omitempty,oneof=openai anthropic"`
	AdditionalRules   []string                `toml:"additional_rules"`
	MaxSteps          int                     `toml:"max_steps" validate:"gte=0,lte=100"`
	MaxResultChars    int                     `toml:"max_result_chars" validate:"gte=0"`
	RepeatWindow      int                     `toml:"repeat_window" validate:"gte=0"`
	NewTaskModel      *taskloop.ModelSettings `toml:"new_task_model" validate:"omitempty"`
	ContinueTaskModel *taskloop.ModelSettings `toml:"continue_task_model" validate:"omitempty"`
	LeadResponse      *LeadResponse           `toml:"lead_response" validate:"omitempty"`
}

// LeadResponse is the TOML form of taskloop.PromptResponse.
type LeadResponse struct {
	Thought   string         `toml:"thought"`
	Reasoning string         `toml:"reasoning"`
	Plan      string         `toml:"plan"`
	Command   string         `toml:"command" validate:"required"`
	Input     map[string]any `toml:"input"`
}

// RetryConfig configures model call retries.
type RetryConfig struct {
	MaxRetries        int     `toml:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay         float64 `toml:"base_delay" validate:"gte=0"`
	MaxDelay          float64 `toml:"max_delay" validate:"gte=0"`
	BackoffMultiplier float64 `toml:"backoff_multiplier" validate:"gte=1"`
	Jitter            bool    `toml:"jitter"`
}

// CommandConfig selects a command and its factory options.
type CommandConfig struct {
	Name   string         `toml:"name" validate:"required"`
	Config map[string]any `toml:"config"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *File {
	policy := unifiedllm.DefaultRetryPolicy()
	return &File{
		FormatVersion: FormatVersion,
		LogLevel:      "info",
		Conversation:  "default",
		Task: TaskConfig{
			Prompt:         DefaultPrompt,
			MaxSteps:       taskloop.DefaultMaxSteps,
			MaxResultChars: taskloop.DefaultMaxResultChars,
			RepeatWindow:   taskloop.DefaultRepeatWindow,
		},
		Retry: RetryConfig{
			MaxRetries:        policy.MaxRetries,
			BaseDelay:         policy.BaseDelay,
			MaxDelay:          policy.MaxDelay,
			BackoffMultiplier: policy.BackoffMultiplier,
			Jitter:            policy.Jitter,
		},
		Commands: defaultCommands(),
	}
}

func defaultCommands() []CommandConfig {
	return []CommandConfig{{Name: "clock"}, {Name: "javascript"}}
}

// Load reads filename over the defaults and validates the result.
func Load(filename string) (*File, error) {
	if filename == "" {
		return nil, fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(string(content))
}

// Parse decodes TOML content over the defaults and validates the result.
func Parse(content string) (*File, error) {
	cfg := Default()
	cfg.Commands = nil
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			// Command options are free-form.
			if len(key) > 0 && key[0] == "commands" {
				continue
			}
			keys = append(keys, key.String())
		}
		if len(keys) > 0 {
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}
	if !md.IsDefined("commands") {
		cfg.Commands = defaultCommands()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Level returns the zerolog level for LogLevel.
func (f *File) Level() zerolog.Level {
	if f.LogLevel == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(f.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// StatePath returns the resolved conversation database path.
func (f *File) StatePath() (string, error) {
	path := f.StateDB
	if path == "" {
		path = "~/.selfinstruct/state.db"
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error getting user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}

// RetryPolicy converts the retry section.
func (f *File) RetryPolicy() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{
		MaxRetries:        f.Retry.MaxRetries,
		BaseDelay:         f.Retry.BaseDelay,
		MaxDelay:          f.Retry.MaxDelay,
		BackoffMultiplier: f.Retry.BackoffMultiplier,
		Jitter:            f.Retry.Jitter,
	}
}

// CommandConfigs converts the commands section.
func (f *File) CommandConfigs() []taskloop.CommandConfig {
	out := make([]taskloop.CommandConfig, len(f.Commands))
	for i, c := range f.Commands {
		out[i] = taskloop.CommandConfig{Name: c.Name, Config: c.Config}
	}
	return out
}

// TaskManagerConfig builds the task manager configuration around client.
func (f *File) TaskManagerConfig(client taskloop.ModelClient) (taskloop.Config, error) {
	policy := f.RetryPolicy()
	cfg := taskloop.Config{
		Prompt:            f.Task.Prompt,
		Client:            client,
		NewTaskModel:      f.modelSettings(f.Task.NewTaskModel),
		ContinueTaskModel: f.modelSettings(f.Task.ContinueTaskModel),
		AdditionalRules:   f.Task.AdditionalRules,
		MaxSteps:          f.Task.MaxSteps,
		MaxResultChars:    f.Task.MaxResultChars,
		RepeatWindow:      f.Task.RepeatWindow,
		RetryPolicy:       &policy,
	}
	if lead := f.Task.LeadResponse; lead != nil {
		input := lead.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return taskloop.Config{}, fmt.Errorf("invalid task.lead_response.input: %w", err)
		}
		cfg.LeadResponse = &taskloop.PromptResponse{
			Thoughts: taskloop.Thoughts{Thought: lead.Thought, Reasoning: lead.Reasoning, Plan: lead.Plan},
			Command:  taskloop.CommandCall{Name: lead.Command, Input: raw},
		}
	}
	return cfg, nil
}

// modelSettings fills in task.provider, starting from the default settings
// when the section is absent. With no provider and no section it returns nil
// so the task manager keeps its own defaults.
func (f *File) modelSettings(section *taskloop.ModelSettings) *taskloop.ModelSettings {
	if section == nil && f.Task.Provider == "" {
		return nil
	}
	settings := taskloop.DefaultModelSettings()
	if section != nil {
		settings = *section
	}
	if settings.Provider == "" {
		settings.Provider = f.Task.Provider
	}
	return &settings
}
