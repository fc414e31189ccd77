package invoker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/toolgate-io/toolgate/internal/logging"
	"github.com/toolgate-io/toolgate/internal/payments"
	"github.com/toolgate-io/toolgate/internal/tools"
)

const caller = "0x1111111111111111111111111111111111111111"

// fakeGate scripts the gate's decision.
type fakeGate struct {
	result   *payments.GateResult
	lastRef  string
	lastTool string
}

func (f *fakeGate) Check(ctx context.Context, toolID, payer, reference string) (*payments.GateResult, error) {
	f.lastTool = toolID
	f.lastRef = reference
	if f.result != nil {
		return f.result, nil
	}
	return &payments.GateResult{Proceed: true}, nil
}

func optional() *bool {
	b := false
	return &b
}

type env struct {
	registry *tools.Registry
	gate     *fakeGate
	invoker  *Invoker
}

func newEnv() *env {
	registry := tools.NewRegistry(tools.NewMemoryStore())
	gate := &fakeGate{}
	return &env{
		registry: registry,
		gate:     gate,
		invoker:  New(registry, gate, logging.New("error", "text")),
	}
}

func (e *env) register(t *testing.T, d *tools.Descriptor) *tools.Descriptor {
	t.Helper()
	if err := e.registry.Register(context.Background(), d); err != nil {
		t.Fatalf("register: %v", err)
	}
	return d
}

func TestInvokeFreeToolWithPathParam(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21.5, "city": "NYC"}`))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant:      "acme",
		Name:        "get_weather",
		Description: "Current weather",
		URL:         upstream.URL + "/weather/{city}",
		Method:      "GET",
		Params: []tools.Parameter{
			{Name: "city", Type: tools.TypeString, Location: tools.LocationPath},
			{Name: "units", Type: tools.TypeString, Required: optional()},
		},
	})

	res := e.invoker.Invoke(context.Background(), "acme", "get_weather", caller,
		map[string]any{"city": "NYC", "units": "metric"})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}
	if gotPath != "/weather/NYC" {
		t.Errorf("path = %s, want /weather/NYC", gotPath)
	}
	if gotQuery != "units=metric" {
		t.Errorf("query = %s, want units=metric", gotQuery)
	}
	data, ok := res.Data.(map[string]any)
	if !ok || data["city"] != "NYC" {
		t.Errorf("data = %v", res.Data)
	}
}

func TestInvokePaymentRequired(t *testing.T) {
	upstreamCalled := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "paid_tool", Description: "costs money",
		URL: upstream.URL, Method: "POST",
	})
	e.gate.result = &payments.GateResult{
		Message: "Payment required",
		Details: &payments.Details{
			PaymentID:   "pay_abc",
			Amount:      "0.001000",
			PayeeWallet: "0x2222222222222222222222222222222222222222",
			Status:      payments.StatusPending,
		},
	}

	res := e.invoker.Invoke(context.Background(), "acme", "paid_tool", caller, map[string]any{})

	if res.Success {
		t.Fatal("expected blocked invocation")
	}
	if res.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", res.StatusCode)
	}
	if res.PaymentDetails == nil || res.PaymentDetails.PaymentID != "pay_abc" {
		t.Errorf("payment details = %+v", res.PaymentDetails)
	}
	if upstreamCalled {
		t.Error("upstream must not be called when payment is required")
	}
}

func TestInvokeStripsPaymentReference(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "paid_tool", Description: "costs money",
		URL: upstream.URL, Method: "POST",
		Params: []tools.Parameter{{Name: "q", Type: tools.TypeString}},
	})

	res := e.invoker.Invoke(context.Background(), "acme", "paid_tool", caller,
		map[string]any{"q": "hello", tools.PaymentParam: "pay_done"})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if e.gate.lastRef != "pay_done" {
		t.Errorf("gate saw reference %q, want pay_done", e.gate.lastRef)
	}
	if _, leaked := gotBody[tools.PaymentParam]; leaked {
		t.Error("payment reference leaked to upstream body")
	}
	if gotBody["q"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestInvokeMissingRequiredParameter(t *testing.T) {
	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "lookup", Description: "lookup",
		URL: "https://api.example.com/v1", Method: "GET",
		Params: []tools.Parameter{{Name: "id", Type: tools.TypeString}},
	})

	res := e.invoker.Invoke(context.Background(), "acme", "lookup", caller, map[string]any{})

	if res.Success || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", res)
	}
	if res.Message != "Missing required parameter: id" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestInvokeAppliesDefaults(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "search", Description: "search",
		URL: upstream.URL, Method: "GET",
		Params: []tools.Parameter{
			{Name: "q", Type: tools.TypeString},
			{Name: "limit", Type: tools.TypeNumber, Required: optional(), Default: float64(10)},
		},
	})

	res := e.invoker.Invoke(context.Background(), "acme", "search", caller, map[string]any{"q": "cats"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotQuery != "limit=10&q=cats" {
		t.Errorf("query = %s", gotQuery)
	}
}

func TestInvokeUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "overloaded"}`))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "flaky", Description: "flaky",
		URL: upstream.URL, Method: "GET",
	})

	res := e.invoker.Invoke(context.Background(), "acme", "flaky", caller, map[string]any{})

	if res.Success {
		t.Fatal("5xx must not be success")
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
	data, _ := res.Data.(map[string]any)
	if data["error"] != "overloaded" {
		t.Errorf("upstream error body not passed through: %v", res.Data)
	}
}

func TestInvokeTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "slow", Description: "slow",
		URL: upstream.URL, Method: "GET", TimeoutSecs: 1,
	})

	res := e.invoker.Invoke(context.Background(), "acme", "slow", caller, map[string]any{})

	if res.Success {
		t.Fatal("timeout must not be success")
	}
	if res.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", res.StatusCode)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	e := newEnv()
	res := e.invoker.Invoke(context.Background(), "acme", "nope", caller, map[string]any{})
	if res.Success || res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", res)
	}
}

func TestInvokeStaticAndParamHeaders(t *testing.T) {
	var gotAuth, gotTrace string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace-Id")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "secured", Description: "secured",
		URL: upstream.URL, Method: "POST",
		Headers: map[string]string{"Authorization": "Bearer abc123"},
		Params: []tools.Parameter{
			{Name: "X-Trace-Id", Type: tools.TypeString, Location: tools.LocationHeader, Required: optional()},
		},
	})

	res := e.invoker.Invoke(context.Background(), "acme", "secured", caller,
		map[string]any{"X-Trace-Id": "trace-9"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotTrace != "trace-9" {
		t.Errorf("X-Trace-Id = %q", gotTrace)
	}
}

func TestInvokeNonJSONUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text pong"))
	}))
	defer upstream.Close()

	e := newEnv()
	e.register(t, &tools.Descriptor{
		Tenant: "acme", Name: "ping", Description: "ping",
		URL: upstream.URL, Method: "GET",
	})

	res := e.invoker.Invoke(context.Background(), "acme", "ping", caller, map[string]any{})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	data, _ := res.Data.(map[string]any)
	if data["raw"] != "plain text pong" {
		t.Errorf("data = %v", res.Data)
	}
}
