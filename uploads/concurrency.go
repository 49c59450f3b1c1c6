package uploads

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// A single buffered channel caps how many Drive→YouTube transfers run at
// once across every processor instance in this process. Sized from
// MAX_CONCURRENT_TRANSFERS; unset means one transfer at a time.
var (
	transferSemaphore     chan struct{}
	transferSemaphoreOnce sync.Once
)

func initTransferSemaphore() {
	transferSemaphoreOnce.Do(func() {
		maxConcurrent := 1
		if s := os.Getenv("MAX_CONCURRENT_TRANSFERS"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				maxConcurrent = n
			}
		}
		transferSemaphore = make(chan struct{}, maxConcurrent)
		slog.Info("transfer concurrency limit initialized", slog.Int("max_concurrent", maxConcurrent))
	})
}

// acquireTransferSlot waits for a free slot, giving up when ctx is canceled.
func acquireTransferSlot(ctx context.Context) bool {
	initTransferSemaphore()
	select {
	case transferSemaphore <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// releaseTransferSlot frees the slot taken by acquireTransferSlot.
func releaseTransferSlot() {
	initTransferSemaphore()
	select {
	case <-transferSemaphore:
	default:
		slog.Warn("transfer slot release called without corresponding acquire")
	}
}

// ActiveTransfers reports how many transfers hold a slot right now. The
// status endpoint exposes it.
func ActiveTransfers() int {
	initTransferSemaphore()
	return len(transferSemaphore)
}

// MaxConcurrentTransfers reports the configured cap.
func MaxConcurrentTransfers() int {
	initTransferSemaphore()
	return cap(transferSemaphore)
}
