package models

// Actions exchanged between the agent and the panel.
const (
	ActionCheckAsin     = "checkAsin"
	ActionStopCheck     = "stopCheck"
	ActionCheckStarted  = "asinCheckStarted"
	ActionCheckRejected = "checkRejected"
	ActionAsinResult    = "asinResult"
	ActionAsinCheckDone = "asinCheckDone"
	ActionManualResult  = "manualResult"
	ActionMarketPrices  = "marketPrices"
)

// Event is a notification pushed from the orchestrator to the panel.
// Only the fields relevant to Action are set.
type Event struct {
	Action  string              `json:"action"`
	RunID   string              `json:"run_id,omitempty"`
	Items   []CheckItem         `json:"items,omitempty"`
	Result  *CheckResult        `json:"result,omitempty"`
	Stopped bool                `json:"stopped"`
	Manual  *ManualResultNotice `json:"manual,omitempty"`
	Prices  *MarketPriceResult  `json:"prices,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// CheckStartedEvent announces a run and its input order.
func CheckStartedEvent(runID string, items []CheckItem) Event {
	return Event{Action: ActionCheckStarted, RunID: runID, Items: items}
}

// CheckRejectedEvent answers a checkAsin command that could not start.
func CheckRejectedEvent(err error) Event {
	return Event{Action: ActionCheckRejected, Error: err.Error()}
}

func ResultEvent(runID string, r CheckResult) Event {
	return Event{Action: ActionAsinResult, RunID: runID, Result: &r}
}

func CheckDoneEvent(runID string, stopped bool) Event {
	return Event{Action: ActionAsinCheckDone, RunID: runID, Stopped: stopped}
}

func ManualResultEvent(n ManualResultNotice) Event {
	return Event{Action: ActionManualResult, Manual: &n}
}

func MarketPricesEvent(p MarketPriceResult) Event {
	return Event{Action: ActionMarketPrices, Prices: &p}
}
