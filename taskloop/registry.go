package taskloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// CommandRegistration pairs a command factory with its usage.
type CommandRegistration struct {
	Factory CommandFactory
	Usage   CommandUsage

	schema *jsonschema.Schema
}

// Registry is a catalog of installable commands keyed by CanonicalName.
// Managers resolve their configured commands against a registry.
type Registry struct {
	commands map[string]*CommandRegistration
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*CommandRegistration),
	}
}

// Register adds a command. Reserved names always fail. An existing name fails
// unless replace is set, in which case the new registration wins.
func (r *Registry) Register(factory CommandFactory, usage CommandUsage, replace bool) error {
	key := CanonicalName(usage.Name)
	if reservedNames[key] {
		return newReservedNameError(usage.Name)
	}
	if factory == nil {
		return fmt.Errorf("%w: command %q has no factory", ErrConfiguration, usage.Name)
	}

	var schema *jsonschema.Schema
	if usage.InputSchema != "" {
		var err error
		schema, err = compileSchema(usage.InputSchema)
		if err != nil {
			return fmt.Errorf("%w: command %q: %w", ErrConfiguration, usage.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[key]; exists && !replace {
		return newDuplicateCommandError(usage.Name)
	}
	r.commands[key] = &CommandRegistration{
		Factory: factory,
		Usage:   usage,
		schema:  schema,
	}
	return nil
}

// MustRegister is like Register but panics on error. It is intended for
// package-level registration of built-in commands.
func (r *Registry) MustRegister(factory CommandFactory, usage CommandUsage) {
	if err := r.Register(factory, usage, false); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered or reserved.
func (r *Registry) Has(name string) bool {
	key := CanonicalName(name)
	if reservedNames[key] {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[key]
	return ok
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (CommandRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.commands[CanonicalName(name)]
	if !ok {
		return CommandRegistration{}, false
	}
	return *reg, true
}

// Names returns the canonical names of all registered commands, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered commands.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// ValidateInput checks input against the registration's schema. Registrations
// without a schema accept any JSON value.
func (c CommandRegistration) ValidateInput(input json.RawMessage) error {
	if c.schema == nil {
		return nil
	}
	var value any
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	return c.schema.Validate(value)
}

func compileSchema(schema string) (*jsonschema.Schema, error) {
	if !gjson.Valid(schema) {
		return nil, fmt.Errorf("invalid JSON schema")
	}

	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		if url == "inline://schema" {
			return io.NopCloser(bytes.NewReader([]byte(schema))), nil
		}
		return nil, fmt.Errorf("unsupported schema ref: %s", url)
	}
	if err := compiler.AddResource("inline://schema", bytes.NewReader([]byte(schema))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("inline://schema")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}
