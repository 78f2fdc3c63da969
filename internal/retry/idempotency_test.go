package retry_test

import (
	"testing"

	"docpipe/internal/retry"
)

func TestBuildKeyPermutationInvariant(t *testing.T) {
	t.Parallel()
	a := retry.BuildKey("source.deletion.requested", []string{"arch-1", "arch-2", "arch-3"})
	b := retry.BuildKey("source.deletion.requested", []string{"arch-3", "arch-1", "arch-2"})
	c := retry.BuildKey("source.deletion.requested", []string{"arch-2", "arch-3", "arch-1"})
	if a != b || b != c {
		t.Fatalf("key must be invariant under permutation: %q %q %q", a, b, c)
	}
}

func TestBuildKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		eventType string
		ids       []string
		want      string
	}{
		{name: "no-ids", eventType: "source.cleanup.progress", ids: nil, want: "source.cleanup.progress"},
		{name: "one-id", eventType: "doc.created", ids: []string{"d1"}, want: "doc.created:d1"},
		{name: "sorted", eventType: "doc.created", ids: []string{"b", "a"}, want: "doc.created:a:b"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retry.BuildKey(tt.eventType, tt.ids); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildKeyDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	ids := []string{"z", "a"}
	retry.BuildKey("doc.created", ids)
	if ids[0] != "z" || ids[1] != "a" {
		t.Fatalf("input slice was mutated: %v", ids)
	}
}

func TestBuildKeyTypeScoped(t *testing.T) {
	t.Parallel()
	a := retry.BuildKey("doc.created", []string{"d1"})
	b := retry.BuildKey("doc.updated", []string{"d1"})
	if a == b {
		t.Fatalf("keys for different event types must differ")
	}
}
