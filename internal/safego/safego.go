// Package safego provides a panic-recovering goroutine launcher for
// background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. A panic inside fn is recovered and
// logged instead of crashing the process. Use this for fire-and-forget work
// (background jobs, async audit shipping) where an unrecovered panic would
// silently kill the goroutine for good.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
