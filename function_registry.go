package mirror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrReservedFunction is returned when registering a name the path
	// expression languages already bind.
	ErrReservedFunction = errors.New("mirror: function name is reserved")
	// ErrDuplicateFunction is returned when a name is registered twice.
	ErrDuplicateFunction = errors.New("mirror: function already registered")
	// ErrUnknownFunction is returned by Call for unregistered names.
	ErrUnknownFunction = errors.New("mirror: function not registered")
)

// Function is a helper callable from path expressions, e.g. a slug or hash
// function used to build keys.
type Function func(args ...any) (any, error)

// FunctionRegistry holds path expression helpers. Names are matched
// case-insensitively. "path" and "call" are reserved.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]Function)}
}

func functionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds fn under name.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	key := functionKey(name)
	switch {
	case key == "":
		return fmt.Errorf("mirror: function name must not be empty")
	case fn == nil:
		return fmt.Errorf("mirror: function %q is nil", name)
	case key == "path" || key == "call":
		return fmt.Errorf("%w: %q", ErrReservedFunction, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFunction, name)
	}
	if r.functions == nil {
		r.functions = make(map[string]Function)
	}
	r.functions[key] = fn
	return nil
}

// MustRegister is Register that panics on error. It returns r for chaining.
func (r *FunctionRegistry) MustRegister(name string, fn Function) *FunctionRegistry {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
	return r
}

// Clone copies the registry; later registrations on either side are not
// shared.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewFunctionRegistry()
	for key, fn := range r.functions {
		clone.functions[key] = fn
	}
	return clone
}

// Call runs the function registered under name. Errors from the function
// are wrapped with its name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q (no registry)", ErrUnknownFunction, name)
	}
	r.mu.RLock()
	fn, ok := r.functions[functionKey(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	out, err := fn(args...)
	if err != nil {
		return nil, fmt.Errorf("mirror: function %s: %w", name, err)
	}
	return out, nil
}

// Names returns the registered names, lower-cased and sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for key := range r.functions {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}
