package card

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const usageKey = "ocr_usage"

// DefaultOCRQuota is the number of OCR calls after which scans carry a
// quota warning.
const DefaultOCRQuota = 800

// UsageCounter counts OCR requests in the KV so that the count survives
// restarts. It only warns; it never refuses a scan.
type UsageCounter struct {
	kv      KV
	quota   int
	timeout time.Duration
	mu      sync.Mutex
}

// NewUsageCounter creates a counter that warns once quota calls were made.
// A quota of zero or less uses DefaultOCRQuota.
func NewUsageCounter(kv KV, quota int, timeout time.Duration) *UsageCounter {
	if quota <= 0 {
		quota = DefaultOCRQuota
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &UsageCounter{kv: kv, quota: quota, timeout: timeout}
}

// Quota returns the soft ceiling.
func (u *UsageCounter) Quota() int {
	return u.quota
}

// Count returns the number of OCR calls recorded so far.
func (u *UsageCounter) Count(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.read(ctx)
}

// Increment records one OCR call and returns the new count.
func (u *UsageCounter) Increment(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	count, err := u.read(ctx)
	if err != nil {
		return 0, err
	}
	count++

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if err := u.kv.Set(ctx, usageKey, []byte(strconv.Itoa(count))); err != nil {
		return 0, fmt.Errorf("%w: saving usage count: %w", ErrPersistence, err)
	}
	return count, nil
}

// Exceeded reports whether count is past the soft ceiling.
func (u *UsageCounter) Exceeded(count int) bool {
	return count > u.quota
}

func (u *UsageCounter) read(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	data, ok, err := u.kv.Get(ctx, usageKey)
	if err != nil {
		return 0, fmt.Errorf("%w: loading usage count: %w", ErrPersistence, err)
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("%w: decoding usage count %q: %w", ErrPersistence, data, err)
	}
	return count, nil
}
