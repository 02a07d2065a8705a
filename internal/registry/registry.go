// Package registry provides a declarative command table.
//
// A Registry maps command names to their metadata (arguments, outputs and
// the execution flag) and their handler. Tables are filled during package
// initialization and frozen before the first dispatch; a frozen table
// rejects further registrations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrFrozen is returned by Register once the table is frozen.
	ErrFrozen = errors.New("registry is frozen")
	// ErrDuplicate is returned when a command name is registered twice.
	ErrDuplicate = errors.New("command already registered")
	// ErrUnknownCommand is returned by Dispatch for unregistered names.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingArgument is returned by Dispatch when a required argument is absent.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrInvalidArgument is returned by Dispatch when an argument has the wrong type.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ArgType is the value type of an argument.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgInteger ArgType = "integer"
	ArgBoolean ArgType = "boolean"
	// ArgList accepts a list of strings or a comma-separated string.
	ArgList ArgType = "array"
)

// Arg describes one command argument.
type Arg struct {
	Name        string
	Type        ArgType
	Description string
	Required    bool
	// Default is applied by Dispatch when the argument is absent.
	Default any
	// Predefined restricts a string argument to the listed values.
	Predefined []string
}

// Output describes one value produced by a command.
type Output struct {
	Path        string
	Type        string
	Description string
}

// Handler executes a command for the environment env.
type Handler[E any] func(ctx context.Context, env E, args Args) (string, error)

// Command is the registered metadata of one command.
type Command[E any] struct {
	Name        string
	Description string
	Args        []Arg
	Outputs     []Output
	// Execution marks commands that change state, such as writing files
	// or updating the store.
	Execution bool
	Handler   Handler[E]
}

// Arg returns the argument named name.
func (c *Command[E]) Arg(name string) (Arg, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

var commandName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func (c *Command[E]) validate() error {
	if !commandName.MatchString(c.Name) {
		return fmt.Errorf("invalid command name %q", c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("command %s has no handler", c.Name)
	}
	seen := make(map[string]bool, len(c.Args))
	for _, a := range c.Args {
		if a.Name == "" {
			return fmt.Errorf("command %s: argument without a name", c.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("command %s: duplicate argument %s", c.Name, a.Name)
		}
		seen[a.Name] = true
		switch a.Type {
		case ArgString, ArgInteger, ArgBoolean, ArgList:
		default:
			return fmt.Errorf("command %s: argument %s has unknown type %q", c.Name, a.Name, a.Type)
		}
		if len(a.Predefined) > 0 && a.Type != ArgString {
			return fmt.Errorf("command %s: predefined values on non-string argument %s", c.Name, a.Name)
		}
	}
	return nil
}

// Schema returns the JSON schema of the command arguments.
func (c *Command[E]) Schema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(c.Args)),
	}
	for _, a := range c.Args {
		prop := &jsonschema.Schema{Type: string(a.Type), Description: a.Description}
		if a.Type == ArgList {
			prop.Items = &jsonschema.Schema{Type: "string"}
		}
		for _, v := range a.Predefined {
			prop.Enum = append(prop.Enum, v)
		}
		s.Properties[a.Name] = prop
		if a.Required {
			s.Required = append(s.Required, a.Name)
		}
	}
	return s
}

// Registry is a table of commands dispatched with an environment of type E.
type Registry[E any] struct {
	mu       sync.RWMutex
	commands map[string]*Command[E]
	frozen   bool
}

// New creates an empty registry.
func New[E any]() *Registry[E] {
	return &Registry[E]{commands: make(map[string]*Command[E])}
}

// Register adds c to the table.
func (r *Registry[E]) Register(c Command[E]) error {
	if err := c.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registering %s: %w", c.Name, ErrFrozen)
	}
	if _, ok := r.commands[c.Name]; ok {
		return fmt.Errorf("%s: %w", c.Name, ErrDuplicate)
	}
	c.Args = slices.Clone(c.Args)
	c.Outputs = slices.Clone(c.Outputs)
	r.commands[c.Name] = &c
	return nil
}

// MustRegister is Register for package initialization. It panics on error.
func (r *Registry[E]) MustRegister(c Command[E]) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Freeze closes the table. It is safe to call more than once.
func (r *Registry[E]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the table is closed.
func (r *Registry[E]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the command named name.
func (r *Registry[E]) Lookup(name string) (*Command[E], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Commands returns the registered commands sorted by name.
func (r *Registry[E]) Commands() []*Command[E] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command[E], 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch checks raw against the command arguments and runs the handler.
// The first dispatch freezes the table.
func (r *Registry[E]) Dispatch(ctx context.Context, env E, name string, raw map[string]any) (string, error) {
	r.Freeze()
	c, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	args, err := c.bind(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return c.Handler(ctx, env, args)
}

// bind converts raw into typed arguments, applying defaults.
func (c *Command[E]) bind(raw map[string]any) (Args, error) {
	args := make(Args, len(c.Args))
	for _, a := range c.Args {
		v, ok := raw[a.Name]
		if !ok || v == nil {
			switch {
			case a.Default != nil:
				args[a.Name] = a.Default
			case a.Required:
				return nil, fmt.Errorf("%w: %s", ErrMissingArgument, a.Name)
			}
			continue
		}
		converted, err := convert(a, v)
		if err != nil {
			return nil, err
		}
		args[a.Name] = converted
	}
	return args, nil
}

func convert(a Arg, v any) (any, error) {
	invalid := func() error {
		return fmt.Errorf("%w: %s must be %s, got %T", ErrInvalidArgument, a.Name, a.Type, v)
	}
	switch a.Type {
	case ArgString:
		s, ok := v.(string)
		if !ok {
			return nil, invalid()
		}
		if len(a.Predefined) > 0 && !slices.Contains(a.Predefined, s) {
			return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidArgument, a.Name, strings.Join(a.Predefined, ", "))
		}
		return s, nil
	case ArgInteger:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != float64(int(n)) {
				return nil, invalid()
			}
			return int(n), nil
		}
		return nil, invalid()
	case ArgBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, invalid()
		}
		return b, nil
	case ArgList:
		switch l := v.(type) {
		case string:
			return splitList(l), nil
		case []string:
			return slices.Clone(l), nil
		case []any:
			out := make([]string, 0, len(l))
			for _, e := range l {
				s, ok := e.(string)
				if !ok {
					return nil, invalid()
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, invalid()
	}
	return nil, invalid()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Args holds the bound arguments of one dispatch.
type Args map[string]any

// String returns the string argument name, or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the integer argument name, or 0.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

// Bool returns the boolean argument name, or false.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// List returns the list argument name.
func (a Args) List(name string) []string {
	l, _ := a[name].([]string)
	return l
}
