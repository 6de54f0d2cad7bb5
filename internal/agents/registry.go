// Package agents implements the agent runtime: uniform process semantics
// with per-kind request formatting and response parsing.
package agents

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/llm"
	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/scanner"
	"github.com/c4h-ai/orchestrator/internal/skills"
)

// Registered agent kinds.
const (
	KindDiscovery        = "discovery"
	KindSolutionDesigner = "solution_designer"
	KindCoder            = "coder"
)

// Agent processes one task invocation against the workflow context.
type Agent interface {
	Kind() string
	Process(ctx context.Context, wctx Context) models.AgentResult
}

// Deps carries the workflow-scoped collaborators an agent needs. The
// writer and lineage context are per-workflow; the rest are shared.
type Deps struct {
	Logger   *zap.Logger
	Config   config.Tree
	Adapter  *llm.Adapter
	Scanner  *scanner.Scanner
	Recorder *lineage.Recorder
	Lineage  *lineage.Context
	Merger   *skills.Merger
	Writer   *skills.AssetWriter
}

// Factory builds one agent kind from workflow-scoped dependencies.
type Factory func(deps Deps) (Agent, error)

// Registry maps agent kinds to factories. Kinds are wired at compile
// time; there is no runtime class loading.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for a kind, replacing any previous one.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs the named agent kind.
func (r *Registry) Build(kind string, deps Deps) (Agent, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
	return factory(deps)
}

// DefaultRegistry wires the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindDiscovery, func(deps Deps) (Agent, error) {
		return NewDiscovery(deps)
	})
	r.Register(KindSolutionDesigner, func(deps Deps) (Agent, error) {
		return NewSolutionDesigner(deps)
	})
	r.Register(KindCoder, func(deps Deps) (Agent, error) {
		return NewCoder(deps)
	})
	return r
}
