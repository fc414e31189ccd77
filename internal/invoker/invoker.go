// Package invoker routes a tool call end to end: payment gate first, then
// argument validation, then the outbound HTTP call, normalized into one
// envelope shape regardless of what happened.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/payments"
	"github.com/toolgate-io/toolgate/internal/tools"
	"github.com/toolgate-io/toolgate/internal/traces"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// PaymentGate decides whether a call may proceed.
type PaymentGate interface {
	Check(ctx context.Context, toolID, payer, reference string) (*payments.GateResult, error)
}

// Result is the normalized invocation envelope returned for every call,
// successful or not. A payment-required result carries status code 402 and
// the details the caller needs to fund and approve the charge.
type Result struct {
	Success        bool              `json:"success"`
	StatusCode     int               `json:"status_code,omitempty"`
	Data           any               `json:"data,omitempty"`
	Message        string            `json:"message,omitempty"`
	PaymentDetails *payments.Details `json:"payment_details,omitempty"`
}

// Invoker executes tool calls for a tenant's registered descriptors.
type Invoker struct {
	registry *tools.Registry
	gate     PaymentGate
	client   *http.Client
	logger   *slog.Logger
}

// New creates an invoker. The client's own timeout is left unset, each call
// is bounded by its descriptor's timeout instead.
func New(registry *tools.Registry, gate PaymentGate, logger *slog.Logger) *Invoker {
	return &Invoker{
		registry: registry,
		gate:     gate,
		client:   &http.Client{},
		logger:   logger,
	}
}

// Invoke runs one tool call. The reserved payment parameter is extracted
// from args before anything else and never forwarded to the upstream API.
// The gate is consulted before argument validation so a caller learns about
// a required payment even with incomplete arguments.
func (inv *Invoker) Invoke(ctx context.Context, tenant, toolName, payer string, args map[string]any) *Result {
	ctx, span := traces.StartSpan(ctx, "invoker.Invoke",
		traces.Tenant(tenant),
		traces.Payer(payer),
	)
	defer span.End()

	start := time.Now()
	res := inv.invoke(ctx, tenant, toolName, payer, args)

	metrics.ToolInvocationsTotal.WithLabelValues(tenant, outcome(res)).Inc()
	metrics.ToolInvocationDuration.WithLabelValues(tenant).Observe(time.Since(start).Seconds())
	return res
}

func (inv *Invoker) invoke(ctx context.Context, tenant, toolName, payer string, args map[string]any) *Result {
	d, err := inv.registry.GetByName(ctx, tenant, toolName)
	if errors.Is(err, tools.ErrToolNotFound) {
		return &Result{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("Unknown tool: %s", toolName)}
	}
	if err != nil {
		inv.logger.Error("tool lookup failed", "tenant", tenant, "tool", toolName, "error", err)
		return &Result{StatusCode: http.StatusInternalServerError, Message: "Failed to look up tool"}
	}

	// Strip the payment reference before the args touch anything else.
	reference := ""
	if v, ok := args[tools.PaymentParam]; ok {
		reference, _ = v.(string)
		delete(args, tools.PaymentParam)
	}

	gate, err := inv.gate.Check(ctx, d.ID, payer, reference)
	if err != nil {
		inv.logger.Error("payment gate check failed", "tool", d.ID, "payer", payer, "error", err)
		return &Result{StatusCode: http.StatusInternalServerError, Message: "Payment check failed"}
	}
	if !gate.Proceed {
		return &Result{
			StatusCode:     http.StatusPaymentRequired,
			Message:        gate.Message,
			PaymentDetails: gate.Details,
		}
	}

	if msg := applyDefaults(d, args); msg != "" {
		return &Result{StatusCode: http.StatusBadRequest, Message: msg}
	}

	req, err := inv.buildRequest(ctx, d, args)
	if err != nil {
		return &Result{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.Timeout())
	defer cancel()

	resp, err := inv.client.Do(req.WithContext(callCtx))
	if err != nil {
		inv.logger.Warn("outbound call failed", "tool", d.Name, "url", d.URL, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return &Result{StatusCode: http.StatusGatewayTimeout, Message: "Upstream call timed out"}
		}
		return &Result{StatusCode: http.StatusBadGateway, Message: "Upstream call failed"}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := decodeBody(resp.Body)
	if err != nil {
		return &Result{StatusCode: http.StatusBadGateway, Message: "Failed to read upstream response"}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{Success: true, StatusCode: resp.StatusCode, Data: data}
	}
	return &Result{
		StatusCode: resp.StatusCode,
		Data:       data,
		Message:    fmt.Sprintf("Upstream returned HTTP %d", resp.StatusCode),
	}
}

// applyDefaults checks required parameters and fills in declared defaults.
// Returns a caller-facing message on the first missing required parameter.
func applyDefaults(d *tools.Descriptor, args map[string]any) string {
	for _, p := range d.Params {
		if _, ok := args[p.Name]; ok {
			continue
		}
		if p.Default != nil {
			args[p.Name] = p.Default
			continue
		}
		if p.IsRequired() {
			return fmt.Sprintf("Missing required parameter: %s", p.Name)
		}
	}
	return ""
}

// buildRequest places each argument according to its declared location:
// path values substitute URL placeholders, query and header values attach to
// the request, and whatever remains becomes the JSON body for methods that
// carry one. Body parameters of GET/DELETE tools degrade to query values.
func (inv *Invoker) buildRequest(ctx context.Context, d *tools.Descriptor, args map[string]any) (*http.Request, error) {
	pathVars := make(map[string]string)
	query := url.Values{}
	header := http.Header{}
	body := make(map[string]any)

	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok {
			continue
		}
		switch p.EffectiveLocation(d.Method) {
		case tools.LocationPath:
			pathVars[p.Name] = stringify(v)
		case tools.LocationQuery:
			query.Set(p.Name, stringify(v))
		case tools.LocationHeader:
			header.Set(p.Name, stringify(v))
		default:
			body[p.Name] = v
		}
	}

	target, err := tools.ResolveTemplate(d.URL, pathVars)
	if err != nil {
		return nil, err
	}
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var reader io.Reader
	if len(body) > 0 {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// decodeBody parses the upstream response as JSON, wrapping non-JSON bodies
// so callers always get structured data.
func decodeBody(r io.Reader) (any, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]any{"raw": string(raw)}, nil
	}
	return parsed, nil
}

// stringify renders an argument for a path, query, or header position.
// Floats print without exponent notation so numeric IDs survive.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func outcome(res *Result) string {
	switch {
	case res.Success:
		return "success"
	case res.StatusCode == http.StatusPaymentRequired:
		return "payment_required"
	case res.StatusCode == http.StatusBadRequest, res.StatusCode == http.StatusNotFound:
		return "rejected"
	default:
		return "failure"
	}
}
