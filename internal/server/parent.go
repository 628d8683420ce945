// ABOUTME: Watches the process that launched the broker server
// ABOUTME: Polls liveness through the process table until the parent is gone

package server

import (
	"context"
	"time"
)

// WatchParent blocks until pid no longer exists, returning true, or until
// ctx is done, returning false.
func WatchParent(ctx context.Context, pid int, interval time.Duration, alive func(int) bool) bool {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
