package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMCPTool(t *testing.T) {
	d := validDescriptor()
	require.NoError(t, Validate(d))

	tool := ToMCPTool(d)

	assert.Equal(t, "get_weather", tool.Name)
	assert.Equal(t, "Current weather for a city", tool.Description)

	props := tool.InputSchema.Properties
	require.Contains(t, props, "city")
	require.Contains(t, props, "units")
	require.Contains(t, props, PaymentParam, "every tool carries the reserved payment input")

	// city is required, units and _payment_id are not
	assert.Contains(t, tool.InputSchema.Required, "city")
	assert.NotContains(t, tool.InputSchema.Required, "units")
	assert.NotContains(t, tool.InputSchema.Required, PaymentParam)

	city, ok := props["city"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", city["type"])

	units, ok := props["units"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "metric", units["default"])
}

func TestToMCPTool_AllTypes(t *testing.T) {
	d := &Descriptor{
		Tenant: "acme",
		Name:   "kitchen_sink",
		URL:    "https://api.example.com/run",
		Method: "POST",
		Params: []Parameter{
			{Name: "s", Type: TypeString},
			{Name: "n", Type: TypeNumber, Required: optional(), Default: 5},
			{Name: "b", Type: TypeBoolean, Required: optional(), Default: true},
			{Name: "o", Type: TypeObject, Required: optional()},
			{Name: "a", Type: TypeArray, Required: optional()},
		},
	}
	require.NoError(t, Validate(d))

	tool := ToMCPTool(d)
	props := tool.InputSchema.Properties

	for name, typ := range map[string]string{
		"s": "string", "n": "number", "b": "boolean", "o": "object", "a": "array",
	} {
		prop, ok := props[name].(map[string]any)
		require.True(t, ok, "missing property %s", name)
		assert.Equal(t, typ, prop["type"], "property %s", name)
	}

	n := props["n"].(map[string]any)
	assert.Equal(t, float64(5), n["default"])
	b := props["b"].(map[string]any)
	assert.Equal(t, true, b["default"])
}

func TestResolveTemplate(t *testing.T) {
	out, err := ResolveTemplate("https://api.example.com/users/{id}/posts/{post_id}", map[string]string{
		"id":      "42",
		"post_id": "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/42/posts/7", out)

	_, err = ResolveTemplate("https://api.example.com/users/{id}", map[string]string{})
	assert.Error(t, err)

	// No placeholders passes through untouched
	out, err = ResolveTemplate("https://api.example.com/ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/ping", out)
}

func TestExtractTemplateVars(t *testing.T) {
	vars := ExtractTemplateVars("https://x.test/{a}/{b}/{a}")
	assert.Equal(t, []string{"a", "b"}, vars)

	assert.Empty(t, ExtractTemplateVars("https://x.test/plain"))
}
