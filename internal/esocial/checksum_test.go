package esocial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidCPF(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid", "52998224725", true},
		{"valid with formatting", "529.982.247-25", true},
		{"wrong check digit", "52998224724", false},
		{"all same digits", "11111111111", false},
		{"too short", "5299822472", false},
		{"too long", "529982247251", false},
		{"empty", "", false},
		{"letters only", "abcdefghijk", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidCPF(tt.value))
		})
	}
}

func TestValidCNPJ(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid", "11222333000181", true},
		{"valid with formatting", "11.222.333/0001-81", true},
		{"wrong check digit", "11222333000182", false},
		{"all same digits", "11111111111111", false},
		{"too short", "1122233300018", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidCNPJ(tt.value))
		})
	}
}

func TestValidNIS(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid", "12056412545", true},
		{"valid with formatting", "120.56412.54-5", true},
		{"wrong check digit", "12056412546", false},
		{"too short", "1205641254", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidNIS(tt.value))
		})
	}
}
