package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// PaymentParam is the reserved input every generated tool accepts: the ID of
// a pending payment transaction from a prior payment-required response. It is
// never forwarded to the upstream API.
const PaymentParam = "_payment_id"

// paymentParamDescription is what the calling model reads about _payment_id.
const paymentParamDescription = "Payment transaction ID from a previous payment-required response. " +
	"Omit on the first call; if the call returns payment details with a payment_id, " +
	"deposit funds if needed and retry with that ID."

// ToMCPTool converts a descriptor into the MCP tool definition exposed to
// clients. Every tool gets the optional _payment_id input appended.
func ToMCPTool(d *Descriptor) mcp.Tool {
	opts := []mcp.ToolOption{}
	if d.Description != "" {
		opts = append(opts, mcp.WithDescription(d.Description))
	}

	for _, p := range d.Params {
		opts = append(opts, paramOption(p))
	}

	opts = append(opts, mcp.WithString(PaymentParam,
		mcp.Description(paymentParamDescription),
	))

	return mcp.NewTool(d.Name, opts...)
}

// paramOption maps one declared parameter onto an mcp-go schema option.
func paramOption(p Parameter) mcp.ToolOption {
	var propOpts []mcp.PropertyOption
	if p.Description != "" {
		propOpts = append(propOpts, mcp.Description(p.Description))
	}
	if p.IsRequired() {
		propOpts = append(propOpts, mcp.Required())
	}
	if p.Default != nil {
		if opt, ok := defaultOption(p.Type, p.Default); ok {
			propOpts = append(propOpts, opt)
		}
	}

	switch p.Type {
	case TypeNumber:
		return mcp.WithNumber(p.Name, propOpts...)
	case TypeBoolean:
		return mcp.WithBoolean(p.Name, propOpts...)
	case TypeObject:
		return mcp.WithObject(p.Name, propOpts...)
	case TypeArray:
		return mcp.WithArray(p.Name, propOpts...)
	default:
		return mcp.WithString(p.Name, propOpts...)
	}
}

func defaultOption(typ string, def any) (mcp.PropertyOption, bool) {
	switch typ {
	case TypeNumber:
		switch v := def.(type) {
		case float64:
			return mcp.DefaultNumber(v), true
		case int:
			return mcp.DefaultNumber(float64(v)), true
		}
	case TypeBoolean:
		if v, ok := def.(bool); ok {
			return mcp.DefaultBool(v), true
		}
	case TypeString, "":
		if v, ok := def.(string); ok {
			return mcp.DefaultString(v), true
		}
	}
	return nil, false
}
