package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optional() *bool { b := false; return &b }

func validDescriptor() *Descriptor {
	return &Descriptor{
		Tenant:      "acme",
		Name:        "get_weather",
		Description: "Current weather for a city",
		URL:         "https://api.example.com/weather/{city}",
		Method:      "get",
		Params: []Parameter{
			{Name: "city", Type: TypeString, Location: LocationPath},
			{Name: "units", Type: TypeString, Location: LocationQuery, Required: optional(), Default: "metric"},
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	d := validDescriptor()
	require.NoError(t, r.Register(ctx, d))

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "GET", d.Method, "method should be normalized to upper case")
	assert.Equal(t, DefaultTimeoutSecs, d.TimeoutSecs)

	got, err := r.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "get_weather", got.Name)

	byName, err := r.GetByName(ctx, "acme", "get_weather")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byName.ID)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, validDescriptor()))

	err := r.Register(ctx, validDescriptor())
	assert.ErrorIs(t, err, ErrDuplicateName)

	// Same name is fine for a different tenant
	other := validDescriptor()
	other.Tenant = "globex"
	assert.NoError(t, r.Register(ctx, other))
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	d := validDescriptor()
	require.NoError(t, r.Register(ctx, d))

	require.NoError(t, r.Remove(ctx, d.ID))
	assert.NoError(t, r.Remove(ctx, d.ID), "removing twice must succeed")
	assert.NoError(t, r.Remove(ctx, "tool_never_existed"))

	_, err := r.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrToolNotFound)

	// Name is free again after removal
	assert.NoError(t, r.Register(ctx, validDescriptor()))
}

func TestRegistry_Update(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	d := validDescriptor()
	require.NoError(t, r.Register(ctx, d))

	d.Description = "updated"
	d.Name = "weather_lookup"
	require.NoError(t, r.Update(ctx, d))

	_, err := r.GetByName(ctx, "acme", "get_weather")
	assert.ErrorIs(t, err, ErrToolNotFound, "old name should be released")

	got, err := r.GetByName(ctx, "acme", "weather_lookup")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"empty tenant", func(d *Descriptor) { d.Tenant = "" }},
		{"bad name", func(d *Descriptor) { d.Name = "has spaces" }},
		{"underscore name reserved", func(d *Descriptor) { d.Name = "_private" }},
		{"bad method", func(d *Descriptor) { d.Method = "TRACE" }},
		{"relative url", func(d *Descriptor) { d.URL = "/weather" }},
		{"non-http scheme", func(d *Descriptor) { d.URL = "ftp://example.com/x" }},
		{"reserved param name", func(d *Descriptor) {
			d.Params = append(d.Params, Parameter{Name: PaymentParam, Type: TypeString})
		}},
		{"duplicate param", func(d *Descriptor) {
			d.Params = append(d.Params, Parameter{Name: "city", Type: TypeString})
		}},
		{"bad param type", func(d *Descriptor) { d.Params[0].Type = "integer" }},
		{"bad location", func(d *Descriptor) { d.Params[0].Location = "cookie" }},
		{"placeholder without path param", func(d *Descriptor) {
			d.Params = d.Params[1:] // drop the city path param
		}},
		{"optional path param without default", func(d *Descriptor) {
			d.Params[0].Required = optional()
		}},
		{"negative timeout", func(d *Descriptor) { d.TimeoutSecs = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(d)
			err := Validate(d)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestValidate_DefaultsApplied(t *testing.T) {
	d := validDescriptor()
	d.Params[0].Type = ""
	require.NoError(t, Validate(d))
	assert.Equal(t, TypeString, d.Params[0].Type, "empty type defaults to string")
}

func TestParameter_EffectiveLocation(t *testing.T) {
	p := Parameter{Name: "q"}
	assert.Equal(t, LocationQuery, p.EffectiveLocation("GET"))
	assert.Equal(t, LocationQuery, p.EffectiveLocation("DELETE"))
	assert.Equal(t, LocationBody, p.EffectiveLocation("POST"))

	p.Location = LocationHeader
	assert.Equal(t, LocationHeader, p.EffectiveLocation("GET"))
}

func TestRegistry_NotFoundErrors(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	_, err := r.Get(ctx, "tool_missing")
	assert.ErrorIs(t, err, ErrToolNotFound)

	d := validDescriptor()
	d.ID = "tool_missing"
	err = r.Update(ctx, d)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}
