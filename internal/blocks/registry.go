package blocks

import (
	"sort"
	"sync"

	"github.com/temple-compute/horus/pkg/schema"
)

// Registry is a thread-safe lookup table of block types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Block
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]Block),
	}
}

// DefaultRegistry returns a Registry with the builtin block types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NewCommandBlock(CommandConfig{}))
	_ = r.Register(NewEvalBlock())
	return r
}

// Register adds a block type to the registry. Returns error on duplicate.
func (r *Registry) Register(b Block) error {
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "block type is nil")
	}
	name := b.Type()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "block type name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "block type %q already registered", name)
	}

	r.types[name] = b
	return nil
}

// Get retrieves a block type by name.
func (r *Registry) Get(name string) (Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.types[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "block type %q not registered", name)
	}
	return b, nil
}

// Has checks if a block type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Count returns the number of registered block types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// List returns info for all registered block types, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.types))
	for _, b := range r.types {
		infos = append(infos, Info{
			Type:        b.Type(),
			Description: b.Description(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}
