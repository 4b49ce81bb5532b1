package main

import "testing"

func TestFormatMicros(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{1_500_000, "1.50"},
		{-25_010_000, "-25.01"},
		{1_234_567_890_000, "1,234,567.89"},
	}
	for _, tc := range tests {
		if got := formatMicros(tc.in); got != tc.want {
			t.Fatalf("formatMicros(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := signedMicros(2_000_000); got != "+2.00" {
		t.Fatalf("signedMicros = %q", got)
	}
}
