package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToSubunits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"5", 500},
		{"0.1", 10},
		{"0.005", 1},
		{"10.99", 1099},
		{"0", 0},
	}
	for _, tt := range tests {
		if got := ToSubunits(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("ToSubunits(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFromSubunits(t *testing.T) {
	if got := FromSubunits(1234); !got.Equal(decimal.RequireFromString("12.34")) {
		t.Errorf("Expected 12.34, got %s", got)
	}
}

func TestToQuota(t *testing.T) {
	if got := ToQuota(decimal.RequireFromString("0.5"), 500000); got != 250000 {
		t.Errorf("Expected 250000, got %d", got)
	}
}
