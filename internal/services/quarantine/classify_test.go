package quarantine

import (
	"errors"
	"testing"
	"time"

	"sendbot/internal/provider"
	"sendbot/internal/store"
)

func TestClassifySlowMode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		retryAfter int
		want       time.Duration
	}{
		{"reported wait", 120, 120 * time.Second},
		{"no wait reported", 0, time.Minute},
		{"capped at one hour", 5000, time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := provider.NewError(provider.KindSlowMode, tc.retryAfter, "SLOWMODE_WAIT", nil)
			d := Classify(err)
			if d.Kind != store.QuarantineTemporary {
				t.Fatalf("kind = %q, want temporary", d.Kind)
			}
			if d.Duration != tc.want {
				t.Fatalf("duration = %v, want %v", d.Duration, tc.want)
			}
			if !d.Throttled {
				t.Fatalf("slow mode must be marked throttled")
			}
		})
	}
}

func TestClassifyFloodUncapped(t *testing.T) {
	t.Parallel()
	d := Classify(provider.NewError(provider.KindFlood, 7200, "retry after 7200", nil))
	if d.Duration != 7200*time.Second {
		t.Fatalf("flood wait = %v, want 2h uncapped", d.Duration)
	}
	if !d.Throttled {
		t.Fatalf("flood must be marked throttled")
	}

	d = Classify(provider.NewError(provider.KindFlood, 0, "flood", nil))
	if d.Duration != time.Hour {
		t.Fatalf("flood default = %v, want 1h", d.Duration)
	}
}

func TestClassifyPermanentKinds(t *testing.T) {
	t.Parallel()
	for _, kind := range []provider.ErrorKind{provider.KindPermissionDenied, provider.KindInvalidTarget} {
		d := Classify(provider.NewError(kind, 0, "forbidden", nil))
		if d.Kind != store.QuarantinePermanent {
			t.Fatalf("kind %v: got %q, want permanent", kind, d.Kind)
		}
		if d.Duration != 0 {
			t.Fatalf("kind %v: permanent decision carries duration %v", kind, d.Duration)
		}
		if d.Throttled {
			t.Fatalf("kind %v: permanent must not be throttled", kind)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("dial tcp: connection refused")},
		{"nil cause unknown kind", provider.NewError(provider.KindUnknown, 0, "weird", nil)},
		{"wrapped provider error", provider.NewError(provider.KindFlood, 30, "flood", errors.New("inner"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(tc.err)
			if d.Kind != store.QuarantineTemporary && d.Kind != store.QuarantinePermanent {
				t.Fatalf("no decision for %v", tc.err)
			}
			if d.Kind == store.QuarantineTemporary && d.Duration <= 0 {
				t.Fatalf("temporary decision without duration for %v", tc.err)
			}
			if d.Reason == "" {
				t.Fatalf("empty reason for %v", tc.err)
			}
		})
	}
}
