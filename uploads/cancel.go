package uploads

import (
	"context"
	"sync"
)

// In-flight transfers keyed by upload ID so the cancel endpoint can interrupt
// them mid-stream. The DB row is gone by the time CancelTransfer is called;
// this only stops the work.
var (
	cancelMu      sync.Mutex
	activeCancels = map[string]context.CancelFunc{}
)

func registerCancel(id string, cancel context.CancelFunc) {
	cancelMu.Lock()
	activeCancels[id] = cancel
	cancelMu.Unlock()
}

func unregisterCancel(id string) {
	cancelMu.Lock()
	delete(activeCancels, id)
	cancelMu.Unlock()
}

// CancelTransfer interrupts an in-flight transfer. Returns true when one was
// actually running.
func CancelTransfer(id string) bool {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	if c, ok := activeCancels[id]; ok {
		c()
		delete(activeCancels, id)
		return true
	}
	return false
}
