package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/aestiv/flowd/internal/capability"
)

// Delay pauses the flow for a configured duration, ticking progress while it
// waits. Config keys: "duration" (ms or Go duration string) or "seconds".
type Delay struct{}

func (d *Delay) Execute(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
	total := cfg.Duration("duration", 0)
	if total <= 0 {
		if secs := cfg.Int("seconds", 0); secs > 0 {
			total = time.Duration(secs) * time.Second
		}
	}
	if total <= 0 {
		return capability.Failf("delay duration must be greater than zero"), nil
	}

	tick := total / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}

	emit.Logf("waiting %s", total)

	start := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	done := time.NewTimer(total)
	defer done.Stop()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start).Round(time.Millisecond)
			return capability.Failf("delay cancelled after %s", elapsed), nil

		case <-ticker.C:
			elapsed := time.Since(start)
			percent := int(float64(elapsed) / float64(total) * 100)
			if percent > 99 {
				percent = 99
			}
			remaining := total - elapsed
			if remaining < 0 {
				remaining = 0
			}
			emit.Progress(percent, fmt.Sprintf("%s remaining", remaining.Round(time.Millisecond)))

		case <-done.C:
			emit.Progress(100, "done")
			elapsed := time.Since(start)
			return &capability.Result{
				Success: true,
				Message: fmt.Sprintf("waited %s", total),
				Stats: map[string]int64{
					"requested_ms": total.Milliseconds(),
					"elapsed_ms":   elapsed.Milliseconds(),
				},
			}, nil
		}
	}
}
