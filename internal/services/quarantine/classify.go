package quarantine

import (
	"errors"
	"fmt"
	"time"

	"sendbot/internal/provider"
	"sendbot/internal/store"
)

const (
	// slowModeCap bounds how long a slow-mode wait may suppress a target.
	slowModeCap = time.Hour
	// defaultSlowModeWait is used when the platform reports no wait.
	defaultSlowModeWait = time.Minute
	// defaultWait is the conservative fallback for flood and unknown errors.
	defaultWait = time.Hour
)

// Decision is a classified quarantine action for a failed send.
type Decision struct {
	Kind   store.QuarantineKind
	Reason string
	// Duration is zero for permanent decisions.
	Duration time.Duration
	// Throttled marks rate-limit kinds (slow mode / flood). The dispatch log
	// records those as "quarantined" and everything else as "failed".
	Throttled bool
}

// Classify maps a provider failure to a quarantine decision. It is total:
// every error, typed or not, yields exactly one decision.
func Classify(err error) Decision {
	var pe *provider.Error
	if !errors.As(err, &pe) {
		return Decision{
			Kind:     store.QuarantineTemporary,
			Reason:   fmt.Sprintf("unknown error: %v", err),
			Duration: defaultWait,
		}
	}

	switch pe.Kind {
	case provider.KindSlowMode:
		wait := time.Duration(pe.RetryAfter) * time.Second
		if wait <= 0 {
			wait = defaultSlowModeWait
		}
		if wait > slowModeCap {
			wait = slowModeCap
		}
		return Decision{
			Kind:      store.QuarantineTemporary,
			Reason:    fmt.Sprintf("slow mode active: %s", pe.Description),
			Duration:  wait,
			Throttled: true,
		}

	case provider.KindFlood:
		// Flood waits are server-side limits; honor them uncapped.
		wait := time.Duration(pe.RetryAfter) * time.Second
		if wait <= 0 {
			wait = defaultWait
		}
		return Decision{
			Kind:      store.QuarantineTemporary,
			Reason:    fmt.Sprintf("flood wait: %s", pe.Description),
			Duration:  wait,
			Throttled: true,
		}

	case provider.KindPermissionDenied, provider.KindInvalidTarget:
		return Decision{
			Kind:   store.QuarantinePermanent,
			Reason: fmt.Sprintf("permanent error: %s", pe.Description),
		}

	default:
		return Decision{
			Kind:     store.QuarantineTemporary,
			Reason:   fmt.Sprintf("unknown error: %s", pe.Description),
			Duration: defaultWait,
		}
	}
}
