package codec

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds Protocol descriptors keyed by family name.
//
// Each link session builds or receives its own Registry; there is no
// process-wide registry. Registry is safe for concurrent use.
type Registry struct {
	families *xsync.MapOf[string, *Protocol]
}

// NewRegistry returns a registry preloaded with the built-in families.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for _, p := range []*Protocol{NewCompact8(), NewXiaomiSPP(), NewCMF(), NewThermal()} {
		// built-in descriptors are valid
		_ = r.Register(p)
	}

	return r
}

// NewEmptyRegistry returns a registry without any family.
func NewEmptyRegistry() *Registry {
	return &Registry{families: xsync.NewMapOf[string, *Protocol]()}
}

// Register validates and adds p.
func (r *Registry) Register(p *Protocol) error {
	if p == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidLayout)
	}

	if err := p.Validate(); err != nil {
		return err
	}

	if _, loaded := r.families.LoadOrStore(p.Family, p); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateFamily, p.Family)
	}

	return nil
}

// Lookup returns the descriptor registered for family.
func (r *Registry) Lookup(family string) (*Protocol, error) {
	p, ok := r.families.Load(family)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	return p, nil
}

// Families returns the registered family names, sorted.
func (r *Registry) Families() []string {
	names := make([]string, 0, r.families.Size())
	r.families.Range(func(name string, _ *Protocol) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	return names
}
