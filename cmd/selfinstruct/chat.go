package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/martinemde/selfinstruct/taskloop"
)

type conversationStore interface {
	Load(ctx context.Context, id string) (*taskloop.VolatileMemory, error)
	Save(ctx context.Context, id string, memory *taskloop.VolatileMemory) error
	Delete(ctx context.Context, id string) error
}

// session is one interactive conversation. Memory is saved after every
// task call so the conversation survives restarts.
type session struct {
	manager *taskloop.TaskManager
	store   conversationStore
	id      string
	in      io.Reader
	out     io.Writer
}

func runChat(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	store, err := opts.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	events := taskloop.NewEventEmitter(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logEvents(ctx, events.Events())
	}()
	defer func() {
		events.Close()
		wg.Wait()
	}()

	manager, err := opts.newManager(ctx, newClient(ctx), nil, events)
	if err != nil {
		return err
	}

	s := &session{
		manager: manager,
		store:   store,
		id:      opts.cfg.Conversation,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
	}
	return s.run(ctx)
}

func logEvents(ctx context.Context, events <-chan taskloop.TaskEvent) {
	logger := log.Ctx(ctx)
	for ev := range events {
		logger.Trace().
			Str("kind", string(ev.Kind)).
			Str("task_id", ev.TaskID).
			Fields(ev.Data).
			Msg("task event")
	}
}

func (s *session) run(ctx context.Context) error {
	memory, err := s.store.Load(ctx, s.id)
	if err != nil {
		return err
	}
	if s.manager.InTask(memory) {
		noticeLabel.Fprintf(s.out, "Resuming conversation %s. The assistant is waiting for your reply.\n", s.id)
	}

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := s.store.Delete(ctx, s.id); err != nil {
				return err
			}
			memory = taskloop.NewVolatileMemory(nil)
			noticeLabel.Fprintln(s.out, "Conversation reset.")
			continue
		}

		result, err := s.manager.CompleteTask(ctx, memory, line)
		if saveErr := s.store.Save(context.WithoutCancel(ctx), s.id, memory); saveErr != nil {
			return saveErr
		}
		if err != nil {
			if taskloop.IsCancellation(err) {
				return err
			}
			errorLabel.Fprintf(s.out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(s.out, result.Response)
	}
}
