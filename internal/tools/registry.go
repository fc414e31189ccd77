package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/toolgate-io/toolgate/internal/idgen"
	"github.com/toolgate-io/toolgate/internal/validation"
)

// Store persists tool descriptors.
type Store interface {
	Create(ctx context.Context, d *Descriptor) error
	Update(ctx context.Context, d *Descriptor) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Descriptor, error)
	GetByName(ctx context.Context, tenant, name string) (*Descriptor, error)
	ListByTenant(ctx context.Context, tenant string) ([]*Descriptor, error)
}

// Registry validates and manages tool descriptors per tenant.
type Registry struct {
	store Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var allowedTypes = map[string]bool{
	TypeString: true, TypeNumber: true, TypeBoolean: true, TypeObject: true, TypeArray: true,
}

var allowedLocations = map[string]bool{
	"": true, LocationPath: true, LocationQuery: true, LocationBody: true, LocationHeader: true,
}

// Validate checks a descriptor for structural problems. All errors wrap
// ErrInvalidDescriptor.
func Validate(d *Descriptor) error {
	if d.Tenant == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidDescriptor)
	}
	if !validation.IsValidToolName(d.Name) {
		return fmt.Errorf("%w: name must be 1-64 chars of [a-zA-Z0-9_-]", ErrInvalidDescriptor)
	}
	if strings.HasPrefix(d.Name, "_") {
		return fmt.Errorf("%w: names starting with underscore are reserved", ErrInvalidDescriptor)
	}

	d.Method = strings.ToUpper(d.Method)
	if !allowedMethods[d.Method] {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidDescriptor, d.Method)
	}

	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s)", ErrInvalidDescriptor)
	}

	seen := make(map[string]bool, len(d.Params))
	pathParams := make(map[string]bool)
	for i := range d.Params {
		p := &d.Params[i]
		if p.Name == PaymentParam {
			return fmt.Errorf("%w: parameter name %q is reserved", ErrInvalidDescriptor, PaymentParam)
		}
		if !validation.IsValidToolName(p.Name) {
			return fmt.Errorf("%w: parameter name %q is invalid", ErrInvalidDescriptor, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidDescriptor, p.Name)
		}
		seen[p.Name] = true

		if p.Type == "" {
			p.Type = TypeString
		}
		if !allowedTypes[p.Type] {
			return fmt.Errorf("%w: parameter %q has unsupported type %q", ErrInvalidDescriptor, p.Name, p.Type)
		}
		if !allowedLocations[p.Location] {
			return fmt.Errorf("%w: parameter %q has unsupported location %q", ErrInvalidDescriptor, p.Name, p.Location)
		}
		if p.Location == LocationPath {
			if !p.IsRequired() && p.Default == nil {
				return fmt.Errorf("%w: path parameter %q must be required or have a default", ErrInvalidDescriptor, p.Name)
			}
			pathParams[p.Name] = true
		}
	}

	// Every URL placeholder needs a declared path parameter to fill it.
	for _, v := range ExtractTemplateVars(d.URL) {
		if !pathParams[v] {
			return fmt.Errorf("%w: url placeholder {%s} has no path parameter", ErrInvalidDescriptor, v)
		}
	}

	if d.TimeoutSecs < 0 {
		return fmt.Errorf("%w: timeout_secs must not be negative", ErrInvalidDescriptor)
	}

	return nil
}

// Register validates the descriptor, assigns an ID, and persists it.
// Tool names are unique per tenant.
func (r *Registry) Register(ctx context.Context, d *Descriptor) error {
	if err := Validate(d); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = idgen.WithPrefix("tool_")
	}
	if d.TimeoutSecs == 0 {
		d.TimeoutSecs = DefaultTimeoutSecs
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	return r.store.Create(ctx, d)
}

// Update replaces an existing descriptor after re-validation.
func (r *Registry) Update(ctx context.Context, d *Descriptor) error {
	if err := Validate(d); err != nil {
		return err
	}
	if d.TimeoutSecs == 0 {
		d.TimeoutSecs = DefaultTimeoutSecs
	}
	d.UpdatedAt = time.Now()
	return r.store.Update(ctx, d)
}

// Remove deletes a descriptor. Removing an unknown ID is not an error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if err == ErrToolNotFound {
		return nil
	}
	return err
}

// Get returns a descriptor by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Descriptor, error) {
	return r.store.Get(ctx, id)
}

// OwnedBy reports whether a tool exists and belongs to the given tenant.
func (r *Registry) OwnedBy(ctx context.Context, toolID, tenant string) (bool, error) {
	d, err := r.Get(ctx, toolID)
	if errors.Is(err, ErrToolNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Tenant == tenant, nil
}

// GetByName returns a tenant's descriptor by tool name.
func (r *Registry) GetByName(ctx context.Context, tenant, name string) (*Descriptor, error) {
	return r.store.GetByName(ctx, tenant, name)
}

// ListByTenant returns all descriptors for a tenant.
func (r *Registry) ListByTenant(ctx context.Context, tenant string) ([]*Descriptor, error) {
	return r.store.ListByTenant(ctx, tenant)
}
