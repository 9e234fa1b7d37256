package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agentsim/internal/schema"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrToolNotFound  = errors.New("tool not found")
	ErrNilHandler    = errors.New("tool handler is nil")
)

// Tool declares one independently invokable capability of an agent.
type Tool struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  schema.FieldSchema `json:"parameters" yaml:"parameters"`
}

// Handler executes one tool call with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Profile is the declared capability surface of an agent: display name,
// system instruction, tool catalog, and optional structural schemas for the
// session query and final response.
type Profile struct {
	Name         string              `json:"name" yaml:"name"`
	Instruction  string              `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Tools        []Tool              `json:"tools" yaml:"tools"`
	InputSchema  *schema.FieldSchema `json:"input,omitempty" yaml:"input,omitempty"`
	OutputSchema *schema.FieldSchema `json:"output,omitempty" yaml:"output,omitempty"`
}

// Validate checks the profile shape, including every tool parameter schema.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	seen := map[string]bool{}
	for _, t := range p.Tools {
		if t.Name == "" {
			return fmt.Errorf("agent %s: tool name is required", p.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("agent %s: duplicate tool %s", p.Name, t.Name)
		}
		seen[t.Name] = true
		if err := t.Parameters.Check(); err != nil {
			return fmt.Errorf("agent %s: tool %s: %w", p.Name, t.Name, err)
		}
	}
	if p.InputSchema != nil {
		if err := p.InputSchema.Check(); err != nil {
			return fmt.Errorf("agent %s: input schema: %w", p.Name, err)
		}
	}
	if p.OutputSchema != nil {
		if err := p.OutputSchema.Check(); err != nil {
			return fmt.Errorf("agent %s: output schema: %w", p.Name, err)
		}
	}
	return nil
}

// Tool returns the declared tool with the given name.
func (p Profile) Tool(name string) (Tool, bool) {
	for _, t := range p.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Agent pairs a profile with the registry of real handlers behind its tools.
type Agent struct {
	Profile Profile

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewAgent wraps a validated profile. Handlers are bound separately.
func NewAgent(p Profile) (*Agent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Agent{Profile: p, handlers: map[string]Handler{}}, nil
}

// Bind attaches the implementation for a declared tool.
func (a *Agent) Bind(toolName string, h Handler) error {
	if _, ok := a.Profile.Tool(toolName); !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, toolName)
	}
	a.mu.Lock()
	a.handlers[toolName] = h
	a.mu.Unlock()
	return nil
}

// Call invokes the bound handler for a tool. It is the single-call
// invocation primitive consumed by the orchestrator; failures are returned,
// never swallowed.
func (a *Agent) Call(ctx context.Context, toolName string, args map[string]any) (any, error) {
	if _, ok := a.Profile.Tool(toolName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	a.mu.RLock()
	h, ok := a.handlers[toolName]
	a.mu.RUnlock()
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilHandler, toolName)
	}
	return h(ctx, args)
}

// Catalog holds the available agents in registration order.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*Agent
}

func New() *Catalog {
	return &Catalog{agents: map[string]*Agent{}}
}

// Add registers an agent; the name must be unique within the catalog.
func (c *Catalog) Add(a *Agent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agents[a.Profile.Name]; ok {
		return fmt.Errorf("agent %s already registered", a.Profile.Name)
	}
	c.agents[a.Profile.Name] = a
	c.order = append(c.order, a.Profile.Name)
	return nil
}

// Get returns a registered agent by name.
func (c *Catalog) Get(name string) (*Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// Names lists agent names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Profiles lists agent profiles in registration order.
func (c *Catalog) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.agents[name].Profile)
	}
	return out
}
