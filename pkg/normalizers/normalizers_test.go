package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"formatted US number", "+1 (555) 123-4567", "5551234567"},
		{"dotted", "555.123.4567", "5551234567"},
		{"bare digits", "5551234567", "5551234567"},
		{"international stays intact", "+44 20 7946 0958", "442079460958"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare domain", "acme.com", "acme.com"},
		{"with scheme", "https://acme.com", "acme.com"},
		{"with www", "www.acme.com", "acme.com"},
		{"scheme www path", "https://www.acme.com/about?x=1", "acme.com"},
		{"with port", "acme.com:8080", "acme.com"},
		{"uppercase", "ACME.COM", "acme.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeDomain(tt.input))
		})
	}
}

func TestNormalizeCompanyName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"corp suffix", "Acme Corp", "acme"},
		{"corporation suffix", "Acme Corporation", "acme"},
		{"inc with punctuation", "Acme, Inc.", "acme"},
		{"llc", "Acme LLC", "acme"},
		{"hyphens collapse", "Acme-Widgets Co", "acme widgets"},
		{"no suffix", "Zenith Partners", "zenith partners"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeCompanyName(tt.input))
		})
	}
}

func TestApplyChain(t *testing.T) {
	got := ApplyChain("  Acme Corp  ", "trim", "ncompany")
	assert.Equal(t, "acme", got)
}

func TestApplyUnknownNormalizerIsIdentity(t *testing.T) {
	assert.Equal(t, "Acme", Apply("Acme", "does_not_exist"))
}

func TestRegisterCustomNormalizer(t *testing.T) {
	Register("test_exclaim", func(s string) string { return s + "!" })
	assert.Equal(t, "acme!", Apply("acme", "test_exclaim"))
}
