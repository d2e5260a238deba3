package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/fastchecker/internal/jobs"
	"github.com/vrsandeep/fastchecker/internal/models"
)

func TestRunRelayWatchdog(t *testing.T) {
	ctx := newJobContext(t)
	require.NoError(t, jobs.RunRelayWatchdog(ctx))
	assert.Equal(t, int32(1), ctx.relay.calls.Load())
}

func TestRunStoreAudit(t *testing.T) {
	ctx := newJobContext(t)
	require.NoError(t, ctx.store.PutManualResult(context.Background(), "A", models.ManualApprovalRequired))
	assert.NoError(t, jobs.RunStoreAudit(ctx))
}

func TestRegisterAll(t *testing.T) {
	ctx := newJobContext(t)
	jobs.RegisterAll(ctx)

	statuses := ctx.jobMgr.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, jobs.StoreAuditJob, statuses[0].ID)
	assert.Equal(t, jobs.RelayWatchdogJob, statuses[1].ID)
}

func TestStartJobs_SchedulesWatchdog(t *testing.T) {
	ctx := newJobContext(t)
	ctx.cfg.Agent.WatchdogInterval = 20 * time.Millisecond
	jobs.RegisterAll(ctx)

	s := jobs.StartJobs(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool { return ctx.relay.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartJobs_DisabledWatchdog(t *testing.T) {
	ctx := newJobContext(t)
	jobs.RegisterAll(ctx)

	s := jobs.StartJobs(ctx)
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), ctx.relay.calls.Load())
	assert.Empty(t, s.Jobs())
}
