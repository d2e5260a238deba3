package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/config"
	"github.com/vrsandeep/fastchecker/internal/store"
)

// RelayConn is the part of the relay connection jobs may poke.
type RelayConn interface {
	EnsureConnected()
}

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct will implement this interface.
type JobContext interface {
	Config() *config.Config
	Logger() *zap.SugaredLogger
	Relay() RelayConn
	Store() store.ManualResultStore
	JobManager() *JobManager
}

type jobTask func(ctx JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	Runs      int       `json:"runs"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type JobManager struct {
	mu     sync.Mutex
	jobs   map[string]jobTask
	status map[string]*JobStatus
	appCtx JobContext // Store the app context for scheduled jobs
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]jobTask),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
	}
}

func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts job id in the background. A job never runs twice at once.
func (jm *JobManager) RunJob(id string, ctx JobContext) error {
	jm.mu.Lock()
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}
	status := jm.status[id]
	if status.Status == "running" {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", id)
	}
	status.Status = "running"
	status.StartTime = time.Now()
	status.Message = "Job started..."
	status.Runs++
	jm.mu.Unlock()

	log := ctx.Logger()
	log.Debugf("Starting job: %s", id)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = "failed"
				status.Message = err.Error()
				log.Errorf("Job '%s' failed: %v", id, err)
			} else {
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			jm.mu.Unlock()
			log.Debugf("Finished job: %s", id)
		}()

		err = task(ctx)
	}()
	return nil
}

// GetStatus returns a copy of every job's status, sorted by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
