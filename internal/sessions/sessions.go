// Package sessions materializes per-tenant MCP servers from registered tool
// descriptors. Sessions are built lazily and rebuilt from scratch whenever a
// tenant's tool set changes, since a live MCP session cannot absorb new
// tools in place.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate-io/toolgate/internal/invoker"
	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/tools"
	"github.com/toolgate-io/toolgate/internal/validation"
)

// ErrNoTools means the tenant has nothing to serve.
var ErrNoTools = errors.New("tenant has no registered tools")

// CallerHeader carries the payer address on MCP HTTP requests.
const CallerHeader = "X-Toolgate-Caller"

type ctxKey int

const payerKey ctxKey = 0

// WithPayer attaches the payer principal to a context.
func WithPayer(ctx context.Context, payer string) context.Context {
	return context.WithValue(ctx, payerKey, payer)
}

// PayerFromContext returns the payer principal, if any.
func PayerFromContext(ctx context.Context) (string, bool) {
	payer, ok := ctx.Value(payerKey).(string)
	return payer, ok && payer != ""
}

// HTTPContextFunc lifts the caller header into the request context so tool
// handlers can identify the payer. Invalid addresses are dropped, the tool
// call then fails with a caller-facing message instead of a silent guess.
func HTTPContextFunc(ctx context.Context, r *http.Request) context.Context {
	caller := r.Header.Get(CallerHeader)
	if !validation.IsValidEthAddress(caller) {
		return ctx
	}
	return WithPayer(ctx, validation.SanitizeAddress(caller))
}

type session struct {
	srv     *server.MCPServer
	handler http.Handler
	tools   int
}

// Manager owns the per-tenant session cache.
type Manager struct {
	registry *tools.Registry
	invoker  *invoker.Invoker
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager.
func NewManager(registry *tools.Registry, inv *invoker.Invoker, logger *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		invoker:  inv,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// GetOrCreate returns the tenant's live MCP server, building it on first
// use. Tenants without tools get ErrNoTools.
func (m *Manager) GetOrCreate(ctx context.Context, tenant string) (*server.MCPServer, error) {
	s, err := m.getOrCreate(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.srv, nil
}

// Handler returns the tenant's MCP server as an http.Handler for mounting
// under the management API.
func (m *Manager) Handler(ctx context.Context, tenant string) (http.Handler, error) {
	s, err := m.getOrCreate(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.handler, nil
}

func (m *Manager) getOrCreate(ctx context.Context, tenant string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[tenant]; ok {
		return s, nil
	}

	s, err := m.build(ctx, tenant)
	if err != nil {
		return nil, err
	}
	m.sessions[tenant] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("built tenant session", "tenant", tenant, "tools", s.tools)
	return s, nil
}

// build loads the tenant's descriptors and wires each into a fresh MCP
// server backed by the invoker.
func (m *Manager) build(ctx context.Context, tenant string) (*session, error) {
	descriptors, err := m.registry.ListByTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant tools: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, ErrNoTools
	}

	srv := server.NewMCPServer("toolgate/"+tenant, "1.0.0")
	for _, d := range descriptors {
		srv.AddTool(tools.ToMCPTool(d), m.toolHandler(tenant, d.Name))
	}

	return &session{
		srv:     srv,
		handler: server.NewStreamableHTTPServer(srv, server.WithHTTPContextFunc(HTTPContextFunc)),
		tools:   len(descriptors),
	}, nil
}

// toolHandler adapts one registered tool to the MCP call surface. The
// envelope is returned as JSON text either way; payment-required results are
// plain text rather than protocol errors so agent clients can read the
// payment details and retry with a reference.
func (m *Manager) toolHandler(tenant, toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payer, ok := PayerFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError(
				"Caller identity missing: send a valid address in the " + CallerHeader + " header"), nil
		}

		args := req.GetArguments()
		if args == nil {
			args = make(map[string]any)
		}

		res := m.invoker.Invoke(ctx, tenant, toolName, payer, args)
		payload, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return mcp.NewToolResultError("Failed to encode invocation result"), nil
		}

		if res.Success || res.StatusCode == http.StatusPaymentRequired {
			return mcp.NewToolResultText(string(payload)), nil
		}
		return mcp.NewToolResultError(string(payload)), nil
	}
}

// Invalidate drops a tenant's cached session so the next use rebuilds it
// from the latest descriptors. Called whenever the tool set or pricing
// changes.
func (m *Manager) Invalidate(tenant string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[tenant]; !ok {
		return
	}
	delete(m.sessions, tenant)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("invalidated tenant session", "tenant", tenant)
}

// Remove discards a tenant's session. Idempotent.
func (m *Manager) Remove(tenant string) {
	m.Invalidate(tenant)
}

// Reload rebuilds a tenant's session immediately.
func (m *Manager) Reload(ctx context.Context, tenant string) (*server.MCPServer, error) {
	m.Invalidate(tenant)
	return m.GetOrCreate(ctx, tenant)
}
