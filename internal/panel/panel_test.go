package panel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/fastchecker/internal/models"
)

func ids(results []models.CheckResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ItemID
	}
	return out
}

func exportIDs(rows []ExportRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ItemID
	}
	return out
}

func newPanel(items ...string) *Panel {
	p := New()
	p.Reset("run-1", models.NewCheckItems(items))
	return p
}

func sellable(id string) models.CheckResult {
	return models.CheckResult{ItemID: id, Status: models.StatusSuccess, Sellable: true}
}

func pending(id string) models.CheckResult {
	return models.CheckResult{
		ItemID:             id,
		Status:             models.StatusSuccess,
		ReasonCodes:        []string{models.ReasonApprovalRequired},
		ManualCheckPending: true,
	}
}

func TestMerge_IsIdempotent(t *testing.T) {
	existing := pending("B")
	verdict := models.CheckResult{ItemID: "B", ManualStatus: models.ManualApprovalRequired}

	once, changed := Merge(existing, verdict)
	require.True(t, changed)
	assert.Equal(t, models.ManualApprovalRequired, once.ManualStatus)
	assert.False(t, once.ManualCheckPending)
	assert.Equal(t, existing.ReasonCodes, once.ReasonCodes)

	twice, changed := Merge(once, verdict)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestMerge_LastVerdictWins(t *testing.T) {
	r, _ := Merge(pending("B"), models.CheckResult{ItemID: "B", ManualStatus: models.ManualApprovalRequired})
	r, changed := Merge(r, models.CheckResult{ItemID: "B", ManualStatus: models.ManualDoesNotQualify})
	assert.True(t, changed)
	assert.Equal(t, models.ManualDoesNotQualify, r.ManualStatus)
}

func TestMerge_AutomaticUpdateKeepsManualVerdict(t *testing.T) {
	r, _ := Merge(pending("B"), models.CheckResult{ItemID: "B", ManualStatus: models.ManualDoesNotQualify})
	r, _ = Merge(r, pending("B"))
	assert.Equal(t, models.ManualDoesNotQualify, r.ManualStatus)
	assert.False(t, r.ManualCheckPending)
}

func TestPanel_DisplayIsMostRecentFirst(t *testing.T) {
	p := newPanel("A", "B", "C")
	p.OnResult(sellable("A"))
	p.OnResult(pending("B"))
	p.OnResult(sellable("C"))

	assert.Equal(t, []string{"C", "B", "A"}, ids(p.DisplayOrder()))
	assert.Equal(t, 1, p.Pending())
}

func TestPanel_ManualVerdictMovesToFrontOnce(t *testing.T) {
	p := newPanel("A", "B", "C")
	p.OnResult(sellable("A"))
	p.OnResult(pending("B"))
	p.OnResult(sellable("C"))
	p.OnCheckDone(false)
	assert.False(t, p.IsFullyDone())

	notice := models.ManualResultNotice{ItemID: "B", ManualStatus: models.ManualApprovalRequired}
	for i := 0; i < 3; i++ {
		p.OnManualResult(notice)
	}

	assert.Equal(t, []string{"B", "C", "A"}, ids(p.DisplayOrder()))
	assert.Equal(t, 0, p.Pending())
	assert.True(t, p.IsFullyDone())

	// A retransmitted verdict must not reshuffle the list.
	p.OnResult(sellable("A"))
	p.OnManualResult(notice)
	assert.Equal(t, []string{"B", "C", "A"}, ids(p.DisplayOrder()))
}

func TestPanel_UnknownManualVerdictIsIgnored(t *testing.T) {
	p := newPanel("A")
	p.OnResult(pending("A"))
	p.OnManualResult(models.ManualResultNotice{ItemID: "Z", ManualStatus: models.ManualDoesNotQualify})

	assert.Equal(t, 1, p.Pending())
	assert.Equal(t, []string{"A"}, ids(p.DisplayOrder()))
}

func TestPanel_StoppedIsNeverFullyDone(t *testing.T) {
	p := newPanel("A", "B")
	p.OnResult(sellable("A"))
	p.OnCheckDone(true)
	assert.False(t, p.IsFullyDone())

	empty := newPanel("A")
	empty.OnCheckDone(false)
	assert.False(t, empty.IsFullyDone(), "nothing to export")
}

func TestPanel_ExportKeepsInputOrderAndSkipsMissing(t *testing.T) {
	p := newPanel("A", "B", "C", "D")
	p.OnResult(sellable("A"))
	p.OnResult(pending("B"))
	p.OnResult(models.CheckResult{ItemID: "C", Status: models.StatusError, ErrorMessage: "boom"})
	p.OnManualResult(models.ManualResultNotice{ItemID: "B", ManualStatus: models.ManualApprovalRequired})

	rows := p.Export()
	assert.Equal(t, []string{"A", "B", "C"}, exportIDs(rows))
	assert.Equal(t, LabelSellable, rows[0].Status)
	assert.Equal(t, LabelManualApprovalRequired, rows[1].Status)
	assert.Equal(t, LabelError, rows[2].Status)
}

func TestPanel_ApplyDropsStaleRuns(t *testing.T) {
	p := newPanel("A")
	p.Apply(models.ResultEvent("run-0", sellable("A")))
	assert.Empty(t, p.DisplayOrder())

	p.Apply(models.ResultEvent("run-1", pending("A")))
	p.Apply(models.CheckDoneEvent("run-1", false))
	p.Apply(models.ManualResultEvent(models.ManualResultNotice{ItemID: "A", ManualStatus: models.ManualDoesNotQualify}))

	snap := p.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.True(t, snap.FullyDone)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, models.ManualDoesNotQualify, snap.Results[0].ManualStatus)
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		name string
		r    models.CheckResult
		want string
	}{
		{"manual approval", models.CheckResult{Sellable: true, ManualStatus: models.ManualApprovalRequired}, LabelManualApprovalRequired},
		{"manual does not qualify", models.CheckResult{ManualStatus: models.ManualDoesNotQualify}, LabelManualDoesNotQualify},
		{"error", models.CheckResult{Status: models.StatusError}, LabelError},
		{"sellable", sellable("A"), LabelSellable},
		{"pending", pending("A"), LabelManualCheckPending},
		{"restricted", models.CheckResult{Status: models.StatusSuccess}, LabelNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusLabel(tt.r))
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []ExportRow{{Brand: "Acme", Title: "Anvil, heavy", ItemID: "A", Status: LabelSellable}})
	require.NoError(t, err)
	assert.Equal(t, "BRAND,TITLE,ASIN,STATUS\nAcme,\"Anvil, heavy\",A,SELLABLE\n", buf.String())
}
