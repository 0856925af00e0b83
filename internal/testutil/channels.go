package testutil

import (
	"testing"
	"time"
)

// DefaultTestTimeout bounds waits on goroutines in tests.
const DefaultTestTimeout = 5 * time.Second

// WaitForChannel fails the test with msg unless ch is closed or signalled
// within timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatal(msg)
	}
}
