// Package taskloop drives a conversational task to completion by repeatedly
// prompting a language model for a "thought + command" reply and dispatching
// the named command.
//
// The model may call the two reserved commands, ask and finalAnswer, or any
// command configured on the TaskManager. ask pauses the task until the next
// user message. finalAnswer completes it. Every other command is executed and
// its result is appended to the task history before the model is prompted
// again. A task executes at most MaxSteps commands per call before it gives up
// with StatusTooManySteps.
//
// # Architecture
//
//   - Registry: catalog of installable commands (factory plus usage), keyed by
//     CanonicalName and guarding the reserved names.
//   - TaskManager: owns one configured command set and runs tasks against a
//     Memory. Task state lives entirely in the Memory, under InTaskKey and
//     TaskHistoryKey, so a manager can serve many conversations.
//   - PromptBuilder: assembles the system text, usage block, history and
//     pending message, dropping the oldest turns to fit the token budget.
//   - EventEmitter: optional typed event stream for the host application.
//
// # Quick Start
//
//	registry := taskloop.NewRegistry()
//	registry.MustRegister(newClock, clockUsage)
//
//	manager, err := taskloop.NewTaskManager(taskloop.Config{
//	    Prompt: "You are a helpful assistant.",
//	    Client: unifiedllm.NewClientFromEnv(),
//	}, registry)
//	if err != nil {
//	    return err
//	}
//	if err := manager.ConfigureCommands(ctx, []taskloop.CommandConfig{{Name: "clock"}}); err != nil {
//	    return err
//	}
//
//	memory := taskloop.NewVolatileMemory(nil)
//	result, err := manager.CompleteTask(ctx, memory, "What time is it?")
package taskloop
