package ratelimit

import (
	"testing"
	"time"
)

func TestCounterThrottles(t *testing.T) {
	c := NewCounter(time.Hour)

	total, ok := c.Inc()
	if total != 1 || !ok {
		t.Fatalf("first increment should log: total=%d ok=%v", total, ok)
	}
	total, ok = c.Inc()
	if total != 2 || ok {
		t.Fatalf("second increment inside interval should be suppressed: total=%d ok=%v", total, ok)
	}
}

func TestCounterZeroIntervalAlwaysLogs(t *testing.T) {
	c := NewCounter(0)
	for i := 1; i <= 3; i++ {
		total, ok := c.Inc()
		if total != uint64(i) || !ok {
			t.Fatalf("increment %d: total=%d ok=%v", i, total, ok)
		}
	}
}

func TestCounterNilReceiver(t *testing.T) {
	var c *Counter
	if total, ok := c.Inc(); total != 0 || ok {
		t.Fatalf("nil counter must be inert: total=%d ok=%v", total, ok)
	}
}
