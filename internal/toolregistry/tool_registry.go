// Package toolregistry implements the per-agent Tool Registry & Schema
// component (spec §4.2): tools are registered by name, validated against a
// JSON Schema before execution, and a missing or invalid tool call is
// surfaced as a typed, non-fatal result rather than a Go error.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// ExecContext carries the per-call collaborators a tool's executor needs
// (spec §6.4: "context includes a handle to the auth runtime and the event
// emitter"). Auth is left as an opaque handle so this package does not need
// to import internal/toolauth; tools that need it type-assert it themselves.
type ExecContext struct {
	RunID          string
	TraceID        string
	ConversationID string
	AgentName      string
	Auth           any
	Emit           func(models.Event)

	// UserContext carries the run's opaque caller-supplied context value
	// unchanged (spec §3: "context (opaque caller-supplied value, passed
	// unchanged to tools)"). A sub-agent tool (internal/subagent) reads this
	// to seed its nested run's own context, per spec §4.8.
	UserContext any
}

// ExecuteFunc executes a tool call and returns its result content (spec
// §4.2: "execute(args, context) -> string | structured-result"). Structured
// results must already be JSON-encoded into the returned string.
type ExecuteFunc func(ctx context.Context, args json.RawMessage, execCtx ExecContext) (string, error)

// NeedsApprovalFunc is the predicate form of spec §4.2's
// "needsApproval (bool or predicate(args, context) -> bool)".
type NeedsApprovalFunc func(args json.RawMessage, execCtx ExecContext) bool

// NotFoundError is returned by Resolve when no tool with the given name is
// registered. It is a typed value, not a run-fatal error: spec §4.2 requires
// a missing tool to be "surfaced as a tool-result message, not a run error".
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "tool not found: " + e.Name }

// InvalidArgumentsError wraps a JSON Schema validation failure. Like
// NotFoundError it is surfaced as a tool-result message (spec §4.6.4:
// "parse failure -> INVALID_INPUT"), never as a run error.
type InvalidArgumentsError struct {
	Name string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.Name, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// Tool is one entry in the registry: a name unique within its agent's
// registry, a description, an optional parameter schema, an approval
// predicate, and an executor.
type Tool struct {
	name          string
	description   string
	schemaSource  json.RawMessage
	schema        *jsonschema.Schema
	needsApproval NeedsApprovalFunc
	independent   bool
	execute       ExecuteFunc
}

// Name returns the tool's registered name.
func (t *Tool) Name() string { return t.name }

// Description returns the tool's human-readable description.
func (t *Tool) Description() string { return t.description }

// Independent reports the advisory concurrency flag (SPEC_FULL.md's
// supplemented "independent" flag, resolving spec §9's first open
// question): true means this tool call may run concurrently with other
// contiguous independent=true calls in the same ToolPhase.
func (t *Tool) Independent() bool { return t.independent }

// NeedsApproval evaluates the approval predicate for a specific call.
// A tool registered without a predicate never needs approval.
func (t *Tool) NeedsApproval(args json.RawMessage, execCtx ExecContext) bool {
	if t.needsApproval == nil {
		return false
	}
	return t.needsApproval(args, execCtx)
}

// ValidateArguments parses args as JSON and validates it against the tool's
// parameterSchema, if one was registered. A schema-less tool accepts any
// well-formed JSON.
func (t *Tool) ValidateArguments(args json.RawMessage) error {
	var v any
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return &InvalidArgumentsError{Name: t.name, Err: err}
	}
	if t.schema == nil {
		return nil
	}
	if err := t.schema.Validate(v); err != nil {
		return &InvalidArgumentsError{Name: t.name, Err: err}
	}
	return nil
}

// Execute runs the tool's executor. Callers are expected to have already
// called ValidateArguments and checked NeedsApproval per spec §4.6.1's
// ToolPhase ordering.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage, execCtx ExecContext) (string, error) {
	return t.execute(ctx, args, execCtx)
}

// Option configures a Tool at registration time.
type Option func(*Tool)

// WithJSONSchema compiles rawSchema (a JSON Schema document) and attaches it
// as the tool's parameterSchema. Registration fails (via NewTool's error
// return) if the schema does not compile.
func WithJSONSchema(rawSchema json.RawMessage) Option {
	return func(t *Tool) { t.schemaSource = rawSchema }
}

// WithNeedsApproval attaches an approval predicate.
func WithNeedsApproval(fn NeedsApprovalFunc) Option {
	return func(t *Tool) { t.needsApproval = fn }
}

// WithAlwaysNeedsApproval is the constant-true form of needsApproval, for
// the plain-bool variant spec §4.2 also allows.
func WithAlwaysNeedsApproval() Option {
	return WithNeedsApproval(func(json.RawMessage, ExecContext) bool { return true })
}

// WithIndependent marks the tool as safe to execute concurrently with other
// independent tool calls within the same turn.
func WithIndependent() Option {
	return func(t *Tool) { t.independent = true }
}

// NewTool constructs a Tool. name and execute are required.
func NewTool(name, description string, execute ExecuteFunc, opts ...Option) (*Tool, error) {
	if name == "" {
		return nil, errors.New("toolregistry: tool name must not be empty")
	}
	if execute == nil {
		return nil, fmt.Errorf("toolregistry: tool %q: execute must not be nil", name)
	}
	t := &Tool{name: name, description: description, execute: execute}
	for _, opt := range opts {
		opt(t)
	}
	if t.schemaSource != nil {
		compiled, err := compileSchema(name, t.schemaSource)
		if err != nil {
			return nil, err
		}
		t.schema = compiled
	}
	return t, nil
}

func compileSchema(name string, rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "mem://toolregistry/" + name + "/" + uuid.NewString() + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("toolregistry: tool %q: invalid parameter schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: tool %q: invalid parameter schema: %w", name, err)
	}
	return schema, nil
}

// Registry holds the tools available to a single agent. Names must be
// unique within a registry (spec §4.2: "name unique per agent").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. It fails if a tool with the same name is already
// registered; unlike the teacher's registry, silent replacement is not
// permitted because spec §4.2 treats the name as a uniqueness constraint,
// not a last-write-wins slot.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil {
		return errors.New("toolregistry: cannot register a nil tool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.name]; exists {
		return fmt.Errorf("toolregistry: tool %q already registered", tool.name)
	}
	r.tools[tool.name] = tool
	return nil
}

// Resolve looks up a tool by name. A miss returns a *NotFoundError, which
// the engine's ToolPhase converts into a tool_not_found result message
// rather than failing the run (spec §4.2, §4.6.4).
func (r *Registry) Resolve(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return tool, nil
}

// List returns all registered tools in no particular order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// GroupForExecution partitions calls, in declaration order, into batches
// suitable for the ToolPhase executor: each batch is either a single
// sequential call, or a contiguous run of calls whose tools are all
// Independent(). Unknown tool names are treated as not independent so they
// still get their own single-call batch. Grounded on tool_exec.go's
// ExecuteConcurrently batching, adapted to the contiguous-run grouping
// SPEC_FULL.md's independent flag requires instead of treating every call
// in a turn as concurrent.
func (r *Registry) GroupForExecution(calls []models.ToolCall) [][]models.ToolCall {
	var batches [][]models.ToolCall
	var current []models.ToolCall
	currentIndependent := false

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
		}
	}

	for _, call := range calls {
		independent := r.isIndependent(call.Name)
		if len(current) == 0 {
			current = []models.ToolCall{call}
			currentIndependent = independent
			continue
		}
		if independent && currentIndependent {
			current = append(current, call)
			continue
		}
		flush()
		current = []models.ToolCall{call}
		currentIndependent = independent
	}
	flush()
	return batches
}

func (r *Registry) isIndependent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return ok && tool.independent
}
