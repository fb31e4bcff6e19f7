package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient adapter error", TransientError("rate limited"), true},
		{"permanent adapter error", PermanentError("caption rejected"), false},
		{"wrapped permanent error", fmt.Errorf("publish: %w", PermanentError("bad token")), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, true},
		{"unclassified error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
	}

	for _, tt := range tests {
		ae := classifyStatus(tt.status, "body")
		if ae.Transient != tt.wantTransient {
			t.Fatalf("classifyStatus(%d) transient = %v, want %v", tt.status, ae.Transient, tt.wantTransient)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := Registry{"instagram": NewInstagramAdapter()}

	if _, ok := reg.Lookup("instagram"); !ok {
		t.Fatal("expected registered adapter")
	}
	if _, ok := reg.Lookup("myspace"); ok {
		t.Fatal("expected miss for unregistered platform")
	}
}
