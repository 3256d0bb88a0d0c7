package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/martinemde/selfinstruct/commands"
	"github.com/martinemde/selfinstruct/config"
	"github.com/martinemde/selfinstruct/statestore"
	"github.com/martinemde/selfinstruct/taskloop"
	"github.com/martinemde/selfinstruct/unifiedllm"
)

const defaultConfigFile = "selfinstruct.toml"

type options struct {
	configFile   string
	conversation string
	stateDB      string
	logLevel     string

	cfg *config.File
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "selfinstruct",
		Short: "Chat with a model that works through tasks using commands",
		Long: `selfinstruct runs a task loop against a chat model. The model answers with a
command on every turn: it can ask you a question, run one of the configured
commands, or give a final answer.

Examples:
  # Start or resume the default conversation
  selfinstruct

  # Use a named conversation and a config file
  selfinstruct --conversation trip --config ./selfinstruct.toml

  # List stored conversations
  selfinstruct list`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to the configuration file (default ./"+defaultConfigFile+" when present)")
	flags.StringVarP(&opts.conversation, "conversation", "c", "", "Conversation id to start or resume")
	flags.StringVar(&opts.stateDB, "db", "", "Path to the conversation database")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")

	root.AddCommand(newListCmd(opts))
	root.AddCommand(newResetCmd(opts))
	root.AddCommand(newCommandsCmd(opts))
	return root
}

// prepare loads the environment and configuration and installs the logger
// on the command context.
func (o *options) prepare(cmd *cobra.Command) error {
	_ = godotenv.Load() // .env is optional

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if o.conversation != "" {
		cfg.Conversation = o.conversation
	}
	if o.stateDB != "" {
		cfg.StateDB = o.stateDB
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(cfg.Level()).
		With().Timestamp().Logger()
	log.Logger = logger

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.WithContext(ctx))
	return nil
}

func (o *options) loadConfig() (*config.File, error) {
	if o.configFile != "" {
		return config.Load(o.configFile)
	}
	cfg, err := config.Load(defaultConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func (o *options) openStore() (*statestore.SQLiteStore, error) {
	path, err := o.cfg.StatePath()
	if err != nil {
		return nil, err
	}
	return statestore.Open(path)
}

// newManager builds a configured task manager for the loaded configuration.
// A nil counter selects the tokenizer for the new-task model.
func (o *options) newManager(ctx context.Context, client taskloop.ModelClient, counter unifiedllm.TokenCounter, events *taskloop.EventEmitter) (*taskloop.TaskManager, error) {
	registry := taskloop.NewRegistry()
	if err := commands.Register(registry); err != nil {
		return nil, err
	}

	tc, err := o.cfg.TaskManagerConfig(client)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = tokenCounter(ctx, tc)
	}
	tc.TokenCounter = counter
	tc.Events = events

	manager, err := taskloop.NewTaskManager(tc, registry)
	if err != nil {
		return nil, err
	}
	if err := manager.ConfigureCommands(ctx, o.cfg.CommandConfigs()); err != nil {
		return nil, err
	}
	return manager, nil
}

func tokenCounter(ctx context.Context, tc taskloop.Config) unifiedllm.TokenCounter {
	model := taskloop.DefaultModelSettings().Model
	if tc.NewTaskModel != nil {
		model = tc.NewTaskModel.Model
	}
	counter, err := unifiedllm.NewTiktokenCounter(model)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("model", model).Msg("tokenizer unavailable, estimating token counts")
		return unifiedllm.EstimateTokens
	}
	return counter
}

// newClient creates a model client from the environment with request logging.
func newClient(ctx context.Context) *unifiedllm.Client {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		log.Ctx(ctx).Warn().Msg("neither OPENAI_API_KEY nor ANTHROPIC_API_KEY is set; model calls will fail")
	}
	client := unifiedllm.NewClientFromEnv()
	client.Use(logModelCalls)
	return client
}

func logModelCalls(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error)) (*unifiedllm.Response, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	event := log.Ctx(ctx).Debug().
		Str("provider", req.Provider).
		Str("request_model", req.Model).
		Int("messages", len(req.Messages)).
		Dur("elapsed", time.Since(start))
	if err != nil {
		event.Err(err).Msg("model call failed")
		return nil, err
	}
	event.Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Msg("model call finished")
	return resp, nil
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			conversations, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(conversations) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}
			for _, c := range conversations {
				state := "idle"
				if c.InTask {
					state = "waiting for input"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", c.ID, state, c.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [conversation]",
		Short: "Delete a stored conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := opts.cfg.Conversation
			if len(args) == 1 {
				id = args[0]
			}
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s reset.\n", id)
			return nil
		},
	}
}

func newCommandsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Print the command usage shown to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := opts.newManager(cmd.Context(), unifiedllm.NewClient(), unifiedllm.EstimateTokens, nil)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), manager.Usage())
			return nil
		},
	}
}
