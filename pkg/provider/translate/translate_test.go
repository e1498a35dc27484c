package translate

import "testing"

func TestNeeded(t *testing.T) {
	tests := []struct {
		source, target string
		want           bool
	}{
		{source: "en", target: "es", want: true},
		{source: "es", target: "es", want: false},
		{source: "es-MX", target: "ES", want: false},
		{source: "english", target: "en", want: false},
		{source: "", target: "es", want: true},
		{source: "auto", target: "es", want: true},
		{source: "en", target: "", want: false},
		{source: "en", target: "auto", want: false},
	}
	for _, tt := range tests {
		if got := Needed(tt.source, tt.target); got != tt.want {
			t.Errorf("Needed(%q, %q) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}
}
