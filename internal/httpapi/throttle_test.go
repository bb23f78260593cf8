package httpapi

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestIPThrottleBucketsPerIP(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMetrics(prometheus.NewRegistry())
	th := NewIPThrottle(0.001, 2, m)
	defer th.Close()

	if !th.Allow("1.1.1.1") || !th.Allow("1.1.1.1") {
		t.Fatal("burst must be allowed")
	}
	if th.Allow("1.1.1.1") {
		t.Fatal("expected third request to be throttled")
	}
	if !th.Allow("2.2.2.2") {
		t.Fatal("other IPs have their own bucket")
	}
	if got := testutil.ToFloat64(m.ThrottleKeys); got != 2 {
		t.Fatalf("expected 2 tracked keys, got %v", got)
	}
}

func TestIPThrottleEvictsIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMetrics(prometheus.NewRegistry())
	th := NewIPThrottle(1, 1, m)
	defer th.Close()

	th.Allow("1.1.1.1")
	th.evictIdle(time.Now().Add(throttleIdleTTL + time.Second))

	if got := testutil.ToFloat64(m.ThrottleKeys); got != 0 {
		t.Fatalf("expected idle entry evicted, got %v keys", got)
	}
}
