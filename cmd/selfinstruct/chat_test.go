package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/selfinstruct/commands"
	"github.com/martinemde/selfinstruct/statestore"
	"github.com/martinemde/selfinstruct/taskloop"
	"github.com/martinemde/selfinstruct/unifiedllm"
)

type replayClient struct {
	replies []string
}

func (c *replayClient) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	if len(c.replies) == 0 {
		return nil, &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "no replies left"}}
	}
	text := c.replies[0]
	c.replies = c.replies[1:]
	return &unifiedllm.Response{Model: req.Model, Message: unifiedllm.AssistantMessage(text)}, nil
}

// cancellingClient replays its replies, then cancels the session context.
type cancellingClient struct {
	replayClient
	cancel context.CancelFunc
}

func (c *cancellingClient) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	if len(c.replies) > 0 {
		return c.replayClient.Complete(ctx, req)
	}
	c.cancel()
	return nil, ctx.Err()
}

func newTestSession(t *testing.T, client taskloop.ModelClient, input string) (*session, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	store, err := statestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := taskloop.NewRegistry()
	require.NoError(t, commands.Register(registry))
	manager, err := taskloop.NewTaskManager(taskloop.Config{
		Prompt: "You help with travel plans.",
		Client: client,
	}, registry)
	require.NoError(t, err)
	require.NoError(t, manager.ConfigureCommands(ctx, []taskloop.CommandConfig{{Name: "clock"}}))

	out := &bytes.Buffer{}
	return &session{
		manager: manager,
		store:   store,
		id:      "trip",
		in:      strings.NewReader(input),
		out:     out,
	}, out
}

func TestSessionAskThenAnswer(t *testing.T) {
	client := &replayClient{replies: []string{
		`{"thoughts":{"thought":"Need a city."},"command":{"name":"ask","input":{"question":"Which city?"}}}`,
		`{"command":{"name":"clock","input":{"timezone":"Europe/Lisbon"}}}`,
		`{"command":{"name":"finalAnswer","input":{"answer":"Pack for rain in Lisbon."}}}`,
	}}
	s, out := newTestSession(t, client, "Plan my trip\n\nLisbon\n/exit\n")

	require.NoError(t, s.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Which city?\n")
	assert.Contains(t, text, "Pack for rain in Lisbon.\n")
	assert.Empty(t, client.replies)

	memory, err := s.store.Load(context.Background(), "trip")
	require.NoError(t, err)
	assert.False(t, s.manager.InTask(memory))
}

func TestSessionResumesWaitingTask(t *testing.T) {
	client := &replayClient{replies: []string{
		`{"command":{"name":"ask","input":{"question":"How many nights?"}}}`,
	}}
	first, _ := newTestSession(t, client, "Book a hotel\n")
	require.NoError(t, first.run(context.Background()))

	client.replies = []string{`{"command":{"name":"finalAnswer","input":{"answer":"Booked 3 nights."}}}`}
	out := &bytes.Buffer{}
	second := &session{manager: first.manager, store: first.store, id: "trip", in: strings.NewReader("3\n"), out: out}
	require.NoError(t, second.run(context.Background()))

	assert.Contains(t, out.String(), "Resuming conversation trip.")
	assert.Contains(t, out.String(), "Booked 3 nights.")
}

func TestSessionReportsTaskErrors(t *testing.T) {
	s, out := newTestSession(t, &replayClient{}, "hello\n")

	require.NoError(t, s.run(context.Background()))
	assert.Contains(t, out.String(), "Error: ")
	assert.Contains(t, out.String(), "no replies left")
}

func TestSessionReset(t *testing.T) {
	client := &replayClient{replies: []string{
		`{"command":{"name":"ask","input":{"question":"Where to?"}}}`,
	}}
	s, out := newTestSession(t, client, "Plan a trip\n/reset\n")

	require.NoError(t, s.run(context.Background()))
	assert.Contains(t, out.String(), "Conversation reset.")

	memory, err := s.store.Load(context.Background(), "trip")
	require.NoError(t, err)
	assert.False(t, s.manager.InTask(memory))
	assert.Empty(t, memory.Keys())
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "selfinstruct.toml")
	content := `format_version = "0.1.0"
log_level = "disabled"
state_db = "` + filepath.ToSlash(filepath.Join(dir, "state.db")) + `"

[[commands]]
name = "clock"

[[commands]]
name = "javascript"
[commands.config]
timeout = "500ms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsSubcommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	out, err := execute(t, "commands", "--config", cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\task\n"))
	assert.Contains(t, out, "\tclock\n")
	assert.Contains(t, out, "\tjavascript\n")
}

func TestListAndReset(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "list", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "No conversations.\n", out)

	store, err := statestore.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	memory := taskloop.NewVolatileMemory(map[string]any{taskloop.InTaskKey: true})
	require.NoError(t, store.Save(context.Background(), "trip", memory))
	require.NoError(t, store.Close())

	out, err = execute(t, "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "trip\twaiting for input\t")

	out, err = execute(t, "reset", "trip", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "Conversation trip reset.\n", out)

	out, err = execute(t, "list", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "No conversations.\n", out)
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	_, err := execute(t, "list", "--config", cfg, "--log-level", "shouty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSessionInterruptReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancellingClient{
		replayClient: replayClient{replies: []string{
			`{"command":{"name":"ask","input":{"question":"Which city?"}}}`,
		}},
		cancel: cancel,
	}
	s, _ := newTestSession(t, client, "Plan my trip\nLisbon\n")

	err := s.run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "task cancelled")
	assert.NotContains(t, err.Error(), "failed to save")

	memory, err := s.store.Load(context.Background(), "trip")
	require.NoError(t, err)
	assert.True(t, s.manager.InTask(memory))
	history, _ := memory.Get(taskloop.TaskHistoryKey).([]any)
	assert.Len(t, history, 1)
}
