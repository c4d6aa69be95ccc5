package provider

import (
	"fmt"

	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/config"
)

// UnknownModelError is returned for a model name missing from the registry.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Name)
}

func (e *UnknownModelError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// Registry is the static model table, in configuration order.
type Registry struct {
	order  []Descriptor
	byName map[string]Descriptor
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		order:  make([]Descriptor, 0, len(descriptors)),
		byName: make(map[string]Descriptor, len(descriptors)),
	}

	for _, d := range descriptors {
		if _, dup := r.byName[d.Name]; dup {
			return nil, apperr.Invalid("model name", "%q is configured twice", d.Name)
		}
		r.order = append(r.order, d)
		r.byName[d.Name] = d
	}

	return r, nil
}

func RegistryFromConfig(models []config.ModelConfig) (*Registry, error) {
	descriptors := make([]Descriptor, 0, len(models))
	for _, m := range models {
		d, err := DescriptorFromConfig(m)
		if err != nil {
			return nil, fmt.Errorf("failed to load model table: %w", err)
		}
		descriptors = append(descriptors, d)
	}
	return NewRegistry(descriptors...)
}

func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, &UnknownModelError{Name: name}
	}
	return d, nil
}

func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, d := range r.order {
		names[i] = d.Name
	}
	return names
}
