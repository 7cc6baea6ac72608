// Package funcs maps operation names to Go functions.
//
// Jobs do not ship executable code. A client names a registered function and
// ships its arguments; the worker looks the name up in its own registry.
// Both sides must therefore be built with the same registrations, and the
// arrangement is only meant for mutually trusting processes.
package funcs

import (
	"context"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/protocol"
)

// Func is a job body. args and kwargs are the decoded positional and keyword
// arguments; the return value is shipped back to the client.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Ref is the function blob carried by a TaskMessage.
type Ref struct {
	Name string
}

func init() {
	gob.Register(Ref{})
}

// EncodeRef serializes a reference to the function called name.
func EncodeRef(name string) ([]byte, error) {
	return protocol.EncodeBlob(Ref{Name: name})
}

// DecodeRef reverses EncodeRef.
func DecodeRef(data []byte) (Ref, error) {
	v, err := protocol.DecodeBlob(data)
	if err != nil {
		return Ref{}, err
	}
	ref, ok := v.(Ref)
	if !ok {
		return Ref{}, fmt.Errorf("function blob holds %T, want funcs.Ref", v)
	}
	return ref, nil
}

// Registry maps names to functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("function name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error. It is meant for init
// functions.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrFuncNotFound, name)
	}
	return fn, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry used by Register and by workers that
// are not given one explicitly.
var Default = NewRegistry()

// Register adds fn to Default.
func Register(name string, fn Func) error { return Default.Register(name, fn) }

// MustRegister adds fn to Default and panics on error.
func MustRegister(name string, fn Func) { Default.MustRegister(name, fn) }
