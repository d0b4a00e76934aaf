package billing

import "testing"

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		mapped bool
	}{
		{in: "trialing", want: "trialing", mapped: true},
		{in: "active", want: "active", mapped: true},
		{in: "ACTIVE", want: "active", mapped: true},
		{in: "past_due", want: "past_due", mapped: true},
		{in: "canceled", want: "canceled", mapped: true},
		{in: "unpaid", want: "canceled", mapped: true},
		{in: "incomplete_expired", want: "canceled", mapped: true},
		{in: "incomplete", want: "incomplete", mapped: true},
		{in: "paused", want: "", mapped: false},
		{in: "", want: "", mapped: false},
	}

	for _, tt := range tests {
		got, ok := normalizeStatus(tt.in)
		if got != tt.want || ok != tt.mapped {
			t.Fatalf("normalizeStatus(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.mapped)
		}
	}
}

func TestIsEntitlingStatus(t *testing.T) {
	for _, status := range []string{"active", "trialing", "past_due"} {
		if !isEntitlingStatus(status) {
			t.Fatalf("expected status %q to be entitling", status)
		}
	}
	for _, status := range []string{"canceled", "incomplete", "expired", "paused"} {
		if isEntitlingStatus(status) {
			t.Fatalf("expected status %q to be non-entitling", status)
		}
	}
}

func TestIsKnownPlan(t *testing.T) {
	for _, plan := range []string{"starter", "professional", "enterprise"} {
		if !isKnownPlan(plan) {
			t.Fatalf("expected plan %q to be known", plan)
		}
	}
	if isKnownPlan("premium") {
		t.Fatalf("expected premium to be unknown")
	}
}
