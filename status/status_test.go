package status

import (
	"errors"
	"testing"
)

func TestFromErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"status", New(NotFound, "missing"), NotFound},
		{"plain", errors.New("boom"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.Code != tt.want {
				t.Fatalf("FromError(%v).Code = %v, want %v", tt.err, got.Code, tt.want)
			}
		})
	}
}

func TestStatusIs(t *testing.T) {
	err := New(DeadlineExceeded, "timed out")
	if !Is(err, DeadlineExceeded) {
		t.Fatalf("Is(err, DeadlineExceeded) = false, want true")
	}
	if Is(err, Internal) {
		t.Fatalf("Is(err, Internal) = true, want false")
	}
}

func TestCodeString(t *testing.T) {
	if OK.String() != "OK" {
		t.Fatalf("OK.String() = %q", OK.String())
	}
	if Code(99).String() != "CODE(99)" {
		t.Fatalf("Code(99).String() = %q", Code(99).String())
	}
}
