package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_NoDependenciesIsHealthy(t *testing.T) {
	c := NewChecker(&Config{})
	c.CheckAll()
	assert.Equal(t, Healthy, c.OverallHealth())
	assert.Empty(t, c.GetAllStatus())
}

func TestChecker_TracksFailuresAndRecovery(t *testing.T) {
	var redisDown atomic.Bool
	redisDown.Store(true)

	c := NewChecker(&Config{
		Probes: map[string]Probe{
			"redis": func(context.Context) error {
				if redisDown.Load() {
					return errors.New("connection refused")
				}
				return nil
			},
			"postgres": func(context.Context) error { return nil },
		},
		MaxFailures: 2,
	})

	c.CheckAll()
	assert.Equal(t, Healthy, c.OverallHealth(), "one failure is tolerated")

	c.CheckAll()
	assert.Equal(t, Degraded, c.OverallHealth())

	redis := c.GetStatus("redis")
	require.NotNil(t, redis)
	assert.False(t, redis.IsHealthy)
	assert.Equal(t, 2, redis.FailureCount)
	assert.Equal(t, "connection refused", redis.LastError)

	statuses := c.GetAllStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "postgres", statuses[0].Name)

	redisDown.Store(false)
	c.CheckAll()
	assert.Equal(t, Healthy, c.OverallHealth())
	assert.Zero(t, c.GetStatus("redis").FailureCount)
}

func TestChecker_AllDownIsUnhealthy(t *testing.T) {
	c := NewChecker(&Config{
		Probes: map[string]Probe{
			"redis": func(context.Context) error { return errors.New("down") },
		},
	})

	c.CheckAll()
	assert.Equal(t, Unhealthy, c.OverallHealth())
	assert.Nil(t, c.GetStatus("missing"))
}

func TestChecker_ProbeTimeout(t *testing.T) {
	c := NewChecker(&Config{
		Probes: map[string]Probe{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		Timeout: 20 * time.Millisecond,
	})

	start := time.Now()
	c.CheckAll()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_StartStop(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(&Config{
		Probes: map[string]Probe{
			"redis": func(context.Context) error {
				calls.Add(1)
				return nil
			},
		},
		Interval: 10 * time.Millisecond,
	})

	c.Start()
	c.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}
