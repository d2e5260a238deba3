package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	RelayWatchdogJob = "relay-watchdog"
	StoreAuditJob    = "manual-results-audit"
)

// RegisterAll adds every known job to the app's manager.
func RegisterAll(app JobContext) {
	jm := app.JobManager()
	jm.Register(RelayWatchdogJob, "Relay watchdog", RunRelayWatchdog)
	jm.Register(StoreAuditJob, "Manual results audit", RunStoreAudit)
}

// StartJobs starts the background job scheduler. The returned scheduler must
// be stopped on shutdown.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startRelayWatchdogJob(s, app)

	app.Logger().Info("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startRelayWatchdogJob(s *gocron.Scheduler, app JobContext) {
	log := app.Logger()
	interval := app.Config().Agent.WatchdogInterval
	if interval <= 0 {
		log.Info("Relay watchdog interval is 0, scheduled reconnects are disabled.")
		return
	}

	log.Infof("Scheduling job: '%s' to run every %s.", RelayWatchdogJob, interval)
	_, err := s.Every(interval).Do(func() {
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		if err := app.JobManager().RunJob(RelayWatchdogJob, app); err != nil {
			log.Debugf("Scheduled job '%s' could not start: %v", RelayWatchdogJob, err)
		}
	})
	if err != nil {
		log.Errorf("Error scheduling '%s' job: %v", RelayWatchdogJob, err)
	}
}

// RunRelayWatchdog makes sure the relay connection is up or coming up.
func RunRelayWatchdog(app JobContext) error {
	app.Relay().EnsureConnected()
	return nil
}

// RunStoreAudit logs how many manual verdicts are on record.
func RunStoreAudit(app JobContext) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := app.Store().CountManualResults(ctx)
	if err != nil {
		return err
	}
	app.Logger().Infof("%d manual result(s) on record", n)
	return nil
}
