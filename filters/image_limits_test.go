package filters

import (
	"errors"
	"testing"
)

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		ok   bool
	}{
		{"normal", 2480, 3508, true},
		{"zero width", 0, 10, false},
		{"negative", 10, -1, false},
		{"too wide", MaxImageDimension + 1, 1, false},
		{"too many pixels", 10000, 10000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBounds(tt.w, tt.h)
			if tt.ok && err != nil {
				t.Fatalf("ValidateBounds() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnsupportedImage) {
				t.Fatalf("ValidateBounds() error = %v, want ErrUnsupportedImage", err)
			}
		})
	}
}
