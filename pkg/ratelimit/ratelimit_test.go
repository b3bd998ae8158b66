package ratelimit

import (
	"testing"
	"time"
)

func TestScopeForPath(t *testing.T) {
	cases := map[string]Scope{
		"/api/v1/alerts/interactions":  ScopeInteractions,
		"/api/v1/alerts/interactions/": ScopeInteractions,
		"/api/v1/alerts/subscriptions": ScopeAPI,
		"/api/v1/alerts/run":           ScopeAPI,
		"/":                            ScopeAPI,
	}
	for path, want := range cases {
		if got := ScopeForPath(path); got != want {
			t.Errorf("ScopeForPath(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestKeyAndPerSecond(t *testing.T) {
	if got := Key(ScopeAPI, "10.0.0.1"); got != "propertyalert:ratelimit:api:10.0.0.1" {
		t.Fatalf("Key = %s", got)
	}
	if l := PerSecond(50, 0); l.Rate != 50 || l.Burst != 50 || l.Period != time.Second {
		t.Fatalf("burst must default to rate: %+v", l)
	}
	if l := PerSecond(50, 100); l.Burst != 100 {
		t.Fatalf("explicit burst ignored: %+v", l)
	}
}
