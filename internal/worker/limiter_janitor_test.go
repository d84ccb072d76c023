package worker

import (
	"context"
	"testing"
	"time"

	"github.com/eugener/cachemgr/internal/ratelimit"
)

func TestLimiterJanitor_Evicts(t *testing.T) {
	t.Parallel()
	reg := ratelimit.NewRegistry()
	reg.GetOrCreate("tok", ratelimit.Limits{RPM: 10})

	j := NewLimiterJanitor(reg)
	j.interval = 10 * time.Millisecond
	j.ttl = -time.Hour // everything counts as idle

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return reg.Len() == 0 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
