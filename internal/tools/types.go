// Package tools holds the tool descriptor registry: declarative HTTP API
// descriptions that tenants register and the platform exposes as MCP tools.
package tools

import (
	"errors"
	"time"
)

var (
	ErrToolNotFound      = errors.New("tool not found")
	ErrDuplicateName     = errors.New("tool name already registered for tenant")
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
)

// Parameter locations within the outbound HTTP request.
const (
	LocationPath   = "path"
	LocationQuery  = "query"
	LocationBody   = "body"
	LocationHeader = "header"
)

// Supported parameter types (mirrors JSON Schema primitive types).
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// DefaultTimeoutSecs applies when a descriptor omits an outbound timeout.
const DefaultTimeoutSecs = 30

// Parameter describes one input of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"` // empty = query for GET/DELETE, body otherwise
	Required    *bool  `json:"required,omitempty"` // nil = required
	Default     any    `json:"default,omitempty"`
}

// IsRequired reports whether the parameter must be supplied by the caller.
// Parameters are required unless explicitly marked optional.
func (p Parameter) IsRequired() bool {
	return p.Required == nil || *p.Required
}

// EffectiveLocation resolves the parameter's placement for the given HTTP
// method. Unspecified locations default to query for GET/DELETE and body
// for everything else.
func (p Parameter) EffectiveLocation(method string) string {
	if p.Location != "" {
		return p.Location
	}
	if method == "GET" || method == "DELETE" {
		return LocationQuery
	}
	return LocationBody
}

// Descriptor is a declarative description of an upstream HTTP API exposed
// as a callable MCP tool.
type Descriptor struct {
	ID          string            `json:"id"`
	Tenant      string            `json:"tenant"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url"` // may contain {placeholders} for path params
	Method      string            `json:"method"`
	Params      []Parameter       `json:"params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"` // static headers sent on every call
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Timeout returns the outbound call timeout.
func (d *Descriptor) Timeout() time.Duration {
	secs := d.TimeoutSecs
	if secs <= 0 {
		secs = DefaultTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// Param returns the named parameter, if declared.
func (d *Descriptor) Param(name string) (Parameter, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}
