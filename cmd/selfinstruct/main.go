// Command selfinstruct is an interactive front end for a task manager. Each
// conversation's task state is kept in a local SQLite database so a task
// waiting on the user can be resumed later.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/fatih/color"
)

var (
	errorLabel  = color.New(color.FgRed)
	noticeLabel = color.New(color.FgYellow)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
