// Package panel reconciles streamed check results and late manual verdicts
// into what the user sees: a display list ordered by most recent update and
// an export that keeps the input order.
package panel

import (
	"reflect"
	"sync"

	"github.com/vrsandeep/fastchecker/internal/models"
)

// Status labels shown in the result list and the export.
const (
	LabelSellable               = "SELLABLE"
	LabelNotEligible            = "NOT ELIGIBLE"
	LabelManualCheckPending     = "CHECKING..."
	LabelManualApprovalRequired = "INVOICE REQUIRED"
	LabelManualDoesNotQualify   = "DOES NOT QUALIFY"
	LabelError                  = "ERROR"
)

// ExportRow is one line of the results export.
type ExportRow struct {
	Brand  string `json:"brand"`
	Title  string `json:"title"`
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

// Snapshot is a consistent view of the panel for the control API.
type Snapshot struct {
	RunID     string               `json:"run_id"`
	Results   []models.CheckResult `json:"results"`
	Pending   int                  `json:"pending"`
	APIDone   bool                 `json:"api_done"`
	Stopped   bool                 `json:"stopped"`
	FullyDone bool                 `json:"fully_done"`
}

type Panel struct {
	mu         sync.Mutex
	runID      string
	inputOrder []string
	display    []string // item ids, most recently updated first
	results    map[string]models.CheckResult
	pending    int
	apiDone    bool
	stopped    bool
}

func New() *Panel {
	return &Panel{results: make(map[string]models.CheckResult)}
}

// Reset clears the panel for a new run over items.
func (p *Panel) Reset(runID string, items []models.CheckItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runID = runID
	p.inputOrder = make([]string, len(items))
	for i, it := range items {
		p.inputOrder[i] = it.ItemID
	}
	p.display = nil
	p.results = make(map[string]models.CheckResult)
	p.pending = 0
	p.apiDone = false
	p.stopped = false
}

// Merge applies incoming on top of existing. A manual verdict wins over the
// automatic one and clears the pending flag; re-applying the same verdict
// reports no change.
func Merge(existing, incoming models.CheckResult) (models.CheckResult, bool) {
	out := existing
	if incoming.ManualStatus != models.ManualNone {
		out.ManualStatus = incoming.ManualStatus
		out.ManualCheckPending = false
	} else {
		out = incoming
		if existing.ManualStatus != models.ManualNone {
			out.ManualStatus = existing.ManualStatus
			out.ManualCheckPending = false
		}
	}
	return out, !reflect.DeepEqual(out, existing)
}

// OnResult records a new result or merges an update into an existing one.
func (p *Panel) OnResult(r models.CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult(r)
}

func (p *Panel) onResult(r models.CheckResult) {
	existing, ok := p.results[r.ItemID]
	if !ok {
		p.results[r.ItemID] = r
		p.display = append([]string{r.ItemID}, p.display...)
		if r.ManualCheckPending {
			p.pending++
		}
		return
	}

	merged, changed := Merge(existing, r)
	if !changed {
		return
	}
	p.results[r.ItemID] = merged
	p.moveToFront(r.ItemID)
	if existing.ManualCheckPending && !merged.ManualCheckPending && p.pending > 0 {
		p.pending--
	}
}

// OnManualResult merges a reviewer verdict. Unknown items are ignored.
func (p *Panel) OnManualResult(n models.ManualResultNotice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.results[n.ItemID]; !ok {
		return
	}
	p.onResult(models.CheckResult{ItemID: n.ItemID, ManualStatus: n.ManualStatus})
}

// OnCheckDone records the end of the automatic checks.
func (p *Panel) OnCheckDone(stopped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiDone = true
	p.stopped = stopped
}

// IsFullyDone reports whether the automatic checks completed without being
// stopped, no manual verdict is outstanding and there is something to export.
func (p *Panel) IsFullyDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isFullyDone()
}

func (p *Panel) isFullyDone() bool {
	return p.apiDone && !p.stopped && p.pending == 0 && len(p.results) > 0
}

func (p *Panel) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// DisplayOrder returns the results most recently updated first.
func (p *Panel) DisplayOrder() []models.CheckResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayOrder()
}

func (p *Panel) displayOrder() []models.CheckResult {
	out := make([]models.CheckResult, 0, len(p.display))
	for _, id := range p.display {
		out = append(out, p.results[id])
	}
	return out
}

// Export walks the input order and skips items that never got a result.
func (p *Panel) Export() []ExportRow {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := make([]ExportRow, 0, len(p.results))
	for _, id := range p.inputOrder {
		r, ok := p.results[id]
		if !ok {
			continue
		}
		row := ExportRow{ItemID: id, Status: StatusLabel(r)}
		if r.Summary != nil {
			row.Brand = r.Summary.Brand
			row.Title = r.Summary.Title
		}
		rows = append(rows, row)
	}
	return rows
}

// Snapshot returns the current state under one lock.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		RunID:     p.runID,
		Results:   p.displayOrder(),
		Pending:   p.pending,
		APIDone:   p.apiDone,
		Stopped:   p.stopped,
		FullyDone: p.isFullyDone(),
	}
}

// Apply routes an orchestrator event. A started event resets the panel; other
// events tagged with another run are stale and dropped.
func (p *Panel) Apply(e models.Event) {
	if e.Action == models.ActionCheckStarted {
		p.Reset(e.RunID, e.Items)
		return
	}

	p.mu.Lock()
	stale := e.RunID != "" && e.RunID != p.runID
	p.mu.Unlock()
	if stale {
		return
	}

	switch e.Action {
	case models.ActionAsinResult:
		if e.Result != nil {
			p.OnResult(*e.Result)
		}
	case models.ActionAsinCheckDone:
		p.OnCheckDone(e.Stopped)
	case models.ActionManualResult:
		if e.Manual != nil {
			p.OnManualResult(*e.Manual)
		}
	}
}

// StatusLabel picks the label for r: a manual verdict first, then the
// automatic outcome.
func StatusLabel(r models.CheckResult) string {
	switch r.ManualStatus {
	case models.ManualApprovalRequired:
		return LabelManualApprovalRequired
	case models.ManualDoesNotQualify:
		return LabelManualDoesNotQualify
	}
	switch {
	case r.Status == models.StatusError:
		return LabelError
	case r.Sellable:
		return LabelSellable
	case r.ManualCheckPending:
		return LabelManualCheckPending
	default:
		return LabelNotEligible
	}
}

func (p *Panel) moveToFront(id string) {
	for i, d := range p.display {
		if d == id {
			copy(p.display[1:i+1], p.display[:i])
			p.display[0] = id
			return
		}
	}
}
