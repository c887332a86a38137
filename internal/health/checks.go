package health

import (
	"context"
	"fmt"
	"sync/atomic"

	"cogstate/internal/engine"
)

// DatabaseCheck reports the result of ping.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "database unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "database ok"}
	}
}

// SourceCheck degrades when an input source is unavailable.
func SourceCheck(available func() (bool, string)) Check {
	return func(context.Context) CheckResult {
		ok, reason := available()
		if !ok {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "source unavailable",
				Details: map[string]any{"reason": reason},
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "source available"}
	}
}

// DropCheck degrades while the counter keeps growing between checks.
func DropCheck(dropped func() uint64) Check {
	var last atomic.Uint64
	return func(context.Context) CheckResult {
		now := dropped()
		prev := last.Swap(now)
		details := map[string]any{"dropped_total": now}
		if now > prev {
			details["dropped_since_last_check"] = now - prev
			return CheckResult{
				Status:  StatusDegraded,
				Message: "events dropped under backpressure",
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Details: details}
	}
}

// BeliefCheck fails when the displayed belief is not a distribution.
func BeliefCheck(belief func() engine.Belief) Check {
	return func(context.Context) CheckResult {
		b := belief()
		if !b.Normalized(1e-6) {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "belief is not a probability distribution",
				Error:   fmt.Sprintf("%v", b),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Details: map[string]any{"most_likely": b.MostLikely().String()},
		}
	}
}
