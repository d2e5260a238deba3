package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/panel"
	"github.com/vrsandeep/fastchecker/internal/sellability"
	"github.com/vrsandeep/fastchecker/internal/store"
)

var (
	ErrMissingCredentials = errors.New("missing marketplace credentials: refresh token, client id, client secret and seller id are required")
	ErrNoItems            = errors.New("no valid item ids to check")
)

// DefaultPriceMarkets are queried when a market price request names none.
var DefaultPriceMarkets = []string{"DE", "FR", "IT", "ES", "NL"}

const answeredLimit = 1024

// RunState is the batch loop state.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunStopped   RunState = "stopped"
)

// Notifier receives events for the panel.
type Notifier func(models.Event)

// Sender is the outbound side of the relay connection.
type Sender interface {
	Send(msg models.RelayMessage) error
}

// RunnerOptions wires a Runner to its collaborators.
type RunnerOptions struct {
	Client        sellability.Client
	Store         store.ManualResultStore
	Relay         Sender
	Mailbox       Submitter
	Credentials   models.Credentials
	Marketplace   string
	ItemDelay     time.Duration
	LookupTimeout time.Duration
	Notify        Notifier
	Log           *zap.SugaredLogger
}

// RunStatus is a snapshot of the current batch.
type RunStatus struct {
	RunID     string   `json:"run_id"`
	State     RunState `json:"state"`
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Pending   int      `json:"pending"`
}

type batchRun struct {
	id          string
	items       []models.CheckItem
	creds       models.Credentials
	marketplace string

	results   map[string]*models.CheckResult
	order     []string // arrival order
	pending   int
	state     RunState
	cancelled bool
	stop      chan struct{}
}

// Runner executes batch checks one item at a time and reconciles manual
// verdicts arriving from the relay.
type Runner struct {
	client  sellability.Client
	store   store.ManualResultStore
	relay   Sender
	mailbox Submitter
	notify  Notifier
	log     *zap.SugaredLogger

	creds         models.Credentials
	marketplace   string
	itemDelay     atomic.Int64
	lookupTimeout atomic.Int64

	// emitMu serialises event delivery so a superseded run can never emit
	// after its successor started. Lock order: emitMu, then mu.
	emitMu sync.Mutex
	mu     sync.Mutex
	run    *batchRun

	// answered remembers the most recent market price request ids, oldest first.
	answered      map[string]struct{}
	answeredOrder []string
	wg            sync.WaitGroup
}

func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		client:      opts.Client,
		store:       opts.Store,
		relay:       opts.Relay,
		mailbox:     opts.Mailbox,
		notify:      opts.Notify,
		log:         opts.Log,
		creds:       opts.Credentials,
		marketplace: opts.Marketplace,
		answered:    make(map[string]struct{}),
	}
	if r.notify == nil {
		r.notify = func(models.Event) {}
	}
	r.itemDelay.Store(int64(opts.ItemDelay))
	r.lookupTimeout.Store(int64(opts.LookupTimeout))
	return r
}

// SetDelays updates pacing for items processed from now on.
func (r *Runner) SetDelays(itemDelay, lookupTimeout time.Duration) {
	r.itemDelay.Store(int64(itemDelay))
	r.lookupTimeout.Store(int64(lookupTimeout))
}

// Start validates input and launches a new batch. A batch already running is
// superseded silently: it stops at its next item and emits nothing more.
func (r *Runner) Start(input models.BatchInput) (string, []models.CheckItem, error) {
	creds := r.creds
	if input.Credentials.Complete() {
		creds = input.Credentials
	}
	if !creds.Complete() {
		return "", nil, ErrMissingCredentials
	}
	items := models.NewCheckItems(input.ItemIDs)
	if len(items) == 0 {
		return "", nil, ErrNoItems
	}
	marketplace := strings.ToUpper(input.Marketplace)
	if marketplace == "" {
		marketplace = r.marketplace
	}

	run := &batchRun{
		id:          uuid.NewString(),
		items:       items,
		creds:       creds,
		marketplace: marketplace,
		results:     make(map[string]*models.CheckResult, len(items)),
		state:       RunRunning,
		stop:        make(chan struct{}),
	}

	r.emitMu.Lock()
	r.mu.Lock()
	if prev := r.run; prev != nil && prev.state == RunRunning {
		r.cancel(prev)
		r.log.Infof("Batch %s superseded by %s", prev.id, run.id)
	}
	r.run = run
	r.mu.Unlock()
	r.notify(models.CheckStartedEvent(run.id, items))
	r.emitMu.Unlock()

	r.log.Infof("Starting batch %s: %d item(s) in %s", run.id, len(items), marketplace)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(run)
	}()
	return run.id, items, nil
}

// Stop cancels the current batch and reports whether one was running. The
// item being looked up finishes; no further item starts.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.run
	if run == nil || run.state != RunRunning {
		return false
	}
	r.cancel(run)
	return true
}

func (r *Runner) cancel(run *batchRun) {
	if !run.cancelled {
		run.cancelled = true
		close(run.stop)
	}
}

// Wait blocks until every batch goroutine has returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Status returns a snapshot of the current batch.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return RunStatus{State: RunIdle}
	}
	return RunStatus{
		RunID:     r.run.id,
		State:     r.run.state,
		Total:     len(r.run.items),
		Processed: len(r.run.order),
		Pending:   r.run.pending,
	}
}

// Results returns the current batch's results in arrival order.
func (r *Runner) Results() []models.CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return nil
	}
	out := make([]models.CheckResult, 0, len(r.run.order))
	for _, id := range r.run.order {
		out = append(out, *r.run.results[id])
	}
	return out
}

func (r *Runner) loop(run *batchRun) {
	for i, item := range run.items {
		r.mu.Lock()
		current, cancelled := r.run == run, run.cancelled
		r.mu.Unlock()
		if !current {
			return
		}
		if cancelled {
			r.finish(run, true)
			return
		}

		res := r.check(run, item)

		r.emitMu.Lock()
		r.mu.Lock()
		if r.run != run {
			r.mu.Unlock()
			r.emitMu.Unlock()
			return
		}
		if res.RequiresApproval() {
			res.ManualCheckPending = true
			run.pending++
		}
		stored := res
		run.results[res.ItemID] = &stored
		run.order = append(run.order, res.ItemID)
		r.mu.Unlock()
		r.notify(models.ResultEvent(run.id, res))
		r.emitMu.Unlock()

		if res.ManualCheckPending {
			r.submitForReview(res.ItemID)
		}

		if i < len(run.items)-1 {
			if d := time.Duration(r.itemDelay.Load()); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-t.C:
				case <-run.stop:
					t.Stop()
				}
			}
		}
	}
	r.finish(run, false)
}

func (r *Runner) finish(run *batchRun, stopped bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.run != run {
		r.mu.Unlock()
		return
	}
	if stopped {
		run.state = RunStopped
	} else {
		run.state = RunCompleted
	}
	pending := run.pending
	r.mu.Unlock()

	r.log.Infof("Batch %s %s: %d result(s), %d awaiting manual review", run.id, run.state, len(run.order), pending)
	r.notify(models.CheckDoneEvent(run.id, stopped))
}

// check looks up one item. Failures are captured in the result.
func (r *Runner) check(run *batchRun, item models.CheckItem) models.CheckResult {
	ctx := context.Background()
	if d := time.Duration(r.lookupTimeout.Load()); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	v, err := r.client.CheckSellability(ctx, item.ItemID, run.creds, run.marketplace)
	if err != nil {
		if sellability.IsRetryable(err) {
			r.log.Warnf("Transient lookup failure for %s: %v", item.ItemID, err)
		} else {
			r.log.Errorf("Lookup failed for %s: %v", item.ItemID, err)
		}
		return models.CheckResult{
			ItemID:       item.ItemID,
			Status:       models.StatusError,
			ErrorMessage: err.Error(),
			Message:      fmt.Sprintf("Lookup failed: %v", err),
		}
	}
	return models.CheckResult{
		ItemID:      item.ItemID,
		Status:      models.StatusSuccess,
		Sellable:    v.Sellable,
		Message:     v.Message,
		ReasonCodes: v.ReasonCodes,
		Summary:     v.Summary,
	}
}

func (r *Runner) submitForReview(itemID string) {
	if r.mailbox == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.mailbox.Submit(ctx, itemID); err != nil {
			r.log.Warnf("Could not submit %s for manual review: %v", itemID, err)
			return
		}
		r.log.Debugf("Submitted %s for manual review", itemID)
	}()
}

// HandleRelayFrame dispatches a frame read from the relay.
func (r *Runner) HandleRelayFrame(msg models.RelayMessage) {
	switch m := msg.(type) {
	case models.ManualResultNotice:
		r.handleManualResult(m)
	case models.MarketPriceResult:
		r.handleMarketPrices(m)
	default:
		// new-item notices and price requests are meant for reviewers and
		// pricing workers; the relay echoes them back to us.
		r.log.Debugf("Ignoring %s frame", msg.MessageType())
	}
}

func (r *Runner) handleManualResult(n models.ManualResultNotice) {
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.PutManualResult(ctx, n.ItemID, n.ManualStatus); err != nil {
			r.log.Errorf("Failed to persist manual result for %s: %v", n.ItemID, err)
		}
		cancel()
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if run := r.run; run != nil {
		if existing, ok := run.results[n.ItemID]; ok {
			merged, changed := panel.Merge(*existing, models.CheckResult{ItemID: n.ItemID, ManualStatus: n.ManualStatus})
			if changed {
				if existing.ManualCheckPending && !merged.ManualCheckPending && run.pending > 0 {
					run.pending--
				}
				*existing = merged
			}
		}
	}
	r.mu.Unlock()

	r.log.Infof("Manual result for %s: %s", n.ItemID, n.ManualStatus)
	r.notify(models.ManualResultEvent(n))
}

func (r *Runner) handleMarketPrices(p models.MarketPriceResult) {
	if p.RequestID != "" {
		r.mu.Lock()
		dup := r.markAnswered(p.RequestID)
		r.mu.Unlock()
		if dup {
			r.log.Debugf("Dropping duplicate market prices for request %s", p.RequestID)
			return
		}
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.notify(models.MarketPricesEvent(p))
}

// markAnswered records id and reports whether it was already seen. Only the
// last answeredLimit ids are kept. Callers hold mu.
func (r *Runner) markAnswered(id string) bool {
	if _, ok := r.answered[id]; ok {
		return true
	}
	r.answered[id] = struct{}{}
	r.answeredOrder = append(r.answeredOrder, id)
	if len(r.answeredOrder) > answeredLimit {
		delete(r.answered, r.answeredOrder[0])
		r.answeredOrder = r.answeredOrder[1:]
	}
	return false
}

// RequestMarketPrices asks pricing workers on the relay for offers of itemID
// in markets and returns the request id the answer will carry.
func (r *Runner) RequestMarketPrices(itemID string, markets []string) (string, error) {
	if itemID == "" {
		return "", ErrNoItems
	}
	if len(markets) == 0 {
		markets = DefaultPriceMarkets
	}
	req := models.MarketPriceRequest{RequestID: uuid.NewString(), ItemID: itemID, Markets: markets}
	if err := r.relay.Send(req); err != nil {
		return "", fmt.Errorf("failed to send market price request: %w", err)
	}
	return req.RequestID, nil
}

// ManualResults returns every stored manual verdict.
func (r *Runner) ManualResults(ctx context.Context) (map[string]models.ManualStatus, error) {
	if r.store == nil {
		return map[string]models.ManualStatus{}, nil
	}
	return r.store.LoadManualResults(ctx)
}
