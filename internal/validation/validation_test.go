package validation

import "testing"

func TestIsValidEthAddress(t *testing.T) {
	valid := []string{
		"0x1234567890abcdef1234567890abcdef12345678",
		"0xABCDEF1234567890abcdef1234567890ABCDEF12",
	}
	invalid := []string{
		"",
		"0x123",
		"1234567890abcdef1234567890abcdef12345678",
		"0x1234567890abcdef1234567890abcdef1234567g",
	}

	for _, a := range valid {
		if !IsValidEthAddress(a) {
			t.Errorf("expected %q valid", a)
		}
	}
	for _, a := range invalid {
		if IsValidEthAddress(a) {
			t.Errorf("expected %q invalid", a)
		}
	}
}

func TestIsValidTxHash(t *testing.T) {
	if !IsValidTxHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890") {
		t.Error("expected 64-char hash valid")
	}
	if IsValidTxHash("0xabc") {
		t.Error("expected short hash invalid")
	}
}

func TestIsValidToolName(t *testing.T) {
	for _, name := range []string{"get_weather", "fetch-price", "Tool9"} {
		if !IsValidToolName(name) {
			t.Errorf("expected %q valid", name)
		}
	}
	for _, name := range []string{"", "has space", "dot.tool", "x!"} {
		if IsValidToolName(name) {
			t.Errorf("expected %q invalid", name)
		}
	}
}

func TestValidAmount(t *testing.T) {
	for _, v := range []string{"1.50", "0.000001", "100"} {
		if err := ValidAmount("amount", v)(); err != nil {
			t.Errorf("expected %q valid, got %v", v, err)
		}
	}
	for _, v := range []string{"-1", "1.2.3", "abc", "0", "0.000", ".5", "5."} {
		if err := ValidAmount("amount", v)(); err == nil {
			t.Errorf("expected %q invalid", v)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	if got := SanitizeAddress("  0xABCdef1234567890ABCdef1234567890ABCdef12 "); got != "0xabcdef1234567890abcdef1234567890abcdef12" {
		t.Errorf("unexpected result: %q", got)
	}
	if got := SanitizeAddress("abcdef1234567890abcdef1234567890abcdef12"); got != "0xabcdef1234567890abcdef1234567890abcdef12" {
		t.Errorf("expected 0x prefix added, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("payer", ""),
		ValidAddress("wallet", "0xnope"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
