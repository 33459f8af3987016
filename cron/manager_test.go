package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/types"
)

func newTestManager(t *testing.T) types.CronManager {
	t.Helper()

	log, err := logger.NewDefaultLogger(&types.LoggerConfig{Level: "error"})
	require.NoError(t, err)

	manager, err := NewManager(log, &types.CronConfig{Enabled: true, Timezone: "UTC"})
	require.NoError(t, err)

	return manager
}

func TestAddValidation(t *testing.T) {
	manager := newTestManager(t)

	assert.ErrorIs(t, manager.Add("", "* * * * * *", func() {}), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, manager.Add("job", "", func() {}), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, manager.Add("job", "* * * * * *", nil), types.ErrCronJobIsNil)
	assert.ErrorIs(t, manager.Add("job", "not-a-spec", func() {}), types.ErrCronExpressionInvalid)
}

func TestAddDuplicateJob(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Add("job", "0 0 * * * *", func() {}))
	assert.ErrorIs(t, manager.Add("job", "0 0 * * * *", func() {}), types.ErrCronJobExists)
}

func TestRemoveJob(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Add("job", "0 0 * * * *", func() {}))
	require.NoError(t, manager.Remove("job"))
	assert.ErrorIs(t, manager.Remove("job"), types.ErrCronJobNotFound)
	assert.Empty(t, manager.Jobs())
}

func TestJobsSnapshot(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Add("sweep", "0 */5 * * * *", func() {}))
	require.NoError(t, manager.Add("prefetch", "*/30 * * * * *", func() {}))

	jobs := manager.Jobs()
	require.Len(t, jobs, 2)

	names := map[string]string{}
	for _, job := range jobs {
		names[job.Name] = job.Spec
		assert.Zero(t, job.RunCount)
	}
	assert.Equal(t, "0 */5 * * * *", names["sweep"])
	assert.Equal(t, "*/30 * * * * *", names["prefetch"])
}

func TestJobExecution(t *testing.T) {
	manager := newTestManager(t)

	done := make(chan struct{}, 4)
	require.NoError(t, manager.Add("tick", "* * * * * *", func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, manager.Start())
	defer manager.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire within the second-level schedule")
	}

	jobs := manager.Jobs()
	require.Len(t, jobs, 1)
	assert.GreaterOrEqual(t, jobs[0].RunCount, uint64(1))
	assert.False(t, jobs[0].LastRun.IsZero())
}

func TestStartStopLifecycle(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Start())
	assert.ErrorIs(t, manager.Start(), types.ErrCronIsRunning)

	require.NoError(t, manager.Stop())
	assert.ErrorIs(t, manager.Stop(), types.ErrServerNotRunning)
}
