// Package processor holds the named units of work a job can run and the
// registry the coordinator resolves them from.
package processor

import (
	"context"
	"sort"
	"sync"

	"jobrunner/internal/job"
)

// Processor executes the work for jobs carrying its name.
type Processor interface {
	Name() string
	Execute(ctx context.Context, args job.Arguments) error
}

// BeforeHook is implemented by processors that need to run code before the
// job is marked RUNNING.
type BeforeHook interface {
	Before(ctx context.Context, args job.Arguments)
}

// AfterHook is implemented by processors that need to run code once the
// execution attempt is over, whatever its outcome.
type AfterHook interface {
	After(ctx context.Context, args job.Arguments)
}

// Func adapts a plain function into a Processor.
func Func(name string, fn func(ctx context.Context, args job.Arguments) error) Processor {
	return &funcProcessor{name: name, fn: fn}
}

type funcProcessor struct {
	name string
	fn   func(ctx context.Context, args job.Arguments) error
}

func (f *funcProcessor) Name() string { return f.name }

func (f *funcProcessor) Execute(ctx context.Context, args job.Arguments) error {
	return f.fn(ctx, args)
}

// Registry maps processor names to processors. It is safe for concurrent use.
type Registry struct {
	processors sync.Map // name -> Processor
}

// NewRegistry returns a registry holding ps.
func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any processor with the same name.
func (r *Registry) Register(p Processor) {
	r.processors.Store(p.Name(), p)
}

// Deregister removes the processor with the given name.
func (r *Registry) Deregister(name string) {
	r.processors.Delete(name)
}

// Lookup returns the processor registered under name.
func (r *Registry) Lookup(name string) (Processor, bool) {
	v, ok := r.processors.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Processor), true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.processors.Load(name)
	return ok
}

// Missing returns the names that are not registered, keeping their order.
func (r *Registry) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if !r.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	var names []string
	r.processors.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
