package rkey_test

import (
	"testing"
	"time"

	"github.com/agentnet/kernel/common/rkey"
)

func TestNew_Length(t *testing.T) {
	got, err := rkey.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(got) != rkey.Len {
		t.Fatalf("expected length %d, got %d (%q)", rkey.Len, len(got), got)
	}
}

func TestNew_MonotoneAcrossTime(t *testing.T) {
	a, err := rkey.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	b, err := rkey.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !(a < b) {
		t.Fatalf("expected %q < %q (later rkey must sort after earlier one)", a, b)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		k, err := rkey.New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if seen[k] {
			t.Fatalf("duplicate rkey generated: %q", k)
		}
		seen[k] = true
	}
}
