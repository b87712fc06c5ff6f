package util

import "testing"

func TestIsSolanaAddress(t *testing.T) {
	valid := []string{
		"11111111111111111111111111111111",
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D",
	}
	for _, a := range valid {
		if !IsSolanaAddress(a) {
			t.Fatalf("expected %s to be valid", a)
		}
	}
	invalid := []string{
		"",
		"not-an-address",
		"0x1234567890abcdef1234567890abcdef12345678",
		"EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D0OIl",
		"IlO0IlO0IlO0IlO0IlO0IlO0IlO0IlO0",
	}
	for _, a := range invalid {
		if IsSolanaAddress(a) {
			t.Fatalf("expected %s to be invalid", a)
		}
	}
}
