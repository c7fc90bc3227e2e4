package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// Stage is one executable unit of the pipeline. Invoke receives a read-only view of
// the run and returns its output; it never mutates the view.
//
// Errors are classified with the errs package: transient errors are retried by the
// caller, validation errors degrade the output, anything else fails the group.
type Stage interface {
	Name() string
	// Outputs declares the output fields the stage writes.
	Outputs() []string
	Invoke(ctx context.Context, view *models.RunState) (models.StageOutput, error)
}

// InvokeFunc adapts a plain function to a Stage.
type InvokeFunc func(ctx context.Context, view *models.RunState) (models.StageOutput, error)

type funcStage struct {
	name    string
	outputs []string
	fn      InvokeFunc
}

// NewFunc wraps fn as a stage. With no outputs declared, the stage name is its output.
func NewFunc(name string, fn InvokeFunc, outputs ...string) Stage {
	if len(outputs) == 0 {
		outputs = []string{name}
	}
	return &funcStage{name: name, outputs: outputs, fn: fn}
}

func (s *funcStage) Name() string      { return s.name }
func (s *funcStage) Outputs() []string { return s.outputs }

func (s *funcStage) Invoke(ctx context.Context, view *models.RunState) (models.StageOutput, error) {
	out, err := s.fn(ctx, view)
	if err != nil {
		return models.StageOutput{}, err
	}
	out.Stage = s.name
	return out, nil
}

// Registry maps stage names to stages.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

func NewRegistry(stages ...Stage) (*Registry, error) {
	r := &Registry{stages: make(map[string]Stage)}
	for _, s := range stages {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Stage) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("stage must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[s.Name()]; ok {
		return fmt.Errorf("stage %q already registered", s.Name())
	}
	r.stages[s.Name()] = s
	return nil
}

// Replace registers s, overwriting any stage with the same name.
func (r *Registry) Replace(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[s.Name()] = s
}

func (r *Registry) Get(name string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	if !ok {
		return nil, errs.Fatalf(errs.CodeUnknownStage, "registry", "stage %q is not registered", name)
	}
	return s, nil
}

func (r *Registry) Outputs(name string) ([]string, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return s.Outputs(), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
