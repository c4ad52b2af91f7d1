package catalog

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "request.approved", true},
		{"request.approved", "request.approved", true},
		{"request.approved", "request.denied", false},
		{"request.*", "request.submitted", true},
		{"request.*", "balance.adjusted", false},
		{"*.approved", "request.approved", true},
		{"*.approved", "request.denied", false},
		{"request.*", "request.approved.late", false},
		{"request", "request.approved", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	subs := []string{"balance.adjusted", "request.*"}
	if !MatchAny(subs, "request.cancelled") {
		t.Error("expected request.cancelled to match")
	}
	if MatchAny(subs, "employee.created") {
		t.Error("employee.created should not match")
	}
	if MatchAny(nil, "request.approved") {
		t.Error("no subscriptions should match nothing")
	}
}
