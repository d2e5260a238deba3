package models

import (
	"regexp"
	"slices"
)

// CheckStatus is the outcome of the automatic lookup for one item.
type CheckStatus string

const (
	StatusSuccess CheckStatus = "success"
	StatusError   CheckStatus = "error"
)

// ManualStatus is the verdict a human reviewer reports for an item.
type ManualStatus string

const (
	ManualNone             ManualStatus = ""
	ManualApprovalRequired ManualStatus = "approval_required"
	ManualDoesNotQualify   ManualStatus = "does_not_qualify"
)

// Valid reports whether s is one of the verdicts a reviewer may send.
func (s ManualStatus) Valid() bool {
	return s == ManualApprovalRequired || s == ManualDoesNotQualify
}

// ReasonApprovalRequired is the restriction reason code that escalates an item to manual review.
const ReasonApprovalRequired = "APPROVAL_REQUIRED"

// CheckItem is one entry of a submitted batch.
type CheckItem struct {
	ItemID        string `json:"item_id"`
	SequenceIndex int    `json:"sequence_index"`
}

type ProductSummary struct {
	Brand string `json:"brand"`
	Title string `json:"title"`
}

// CheckResult is the verdict for one item of a batch run. Only the manual
// fields change after creation.
type CheckResult struct {
	ItemID             string          `json:"item_id"`
	Status             CheckStatus     `json:"status"`
	Sellable           bool            `json:"sellable"`
	Message            string          `json:"message,omitempty"`
	ReasonCodes        []string        `json:"reason_codes,omitempty"`
	ManualCheckPending bool            `json:"manual_check_pending"`
	ManualStatus       ManualStatus    `json:"manual_status,omitempty"`
	Summary            *ProductSummary `json:"product_summary,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// RequiresApproval reports whether the lookup flagged the item for manual review.
func (r CheckResult) RequiresApproval() bool {
	return r.Status == StatusSuccess && slices.Contains(r.ReasonCodes, ReasonApprovalRequired)
}

// Credentials are the marketplace credentials a batch is checked with.
type Credentials struct {
	RefreshToken string `json:"refresh_token" mapstructure:"refresh_token"`
	ClientID     string `json:"client_id" mapstructure:"client_id"`
	ClientSecret string `json:"client_secret" mapstructure:"client_secret"`
	SellerID     string `json:"seller_id" mapstructure:"seller_id"`
}

// Complete reports whether every credential field is set.
func (c Credentials) Complete() bool {
	return c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != "" && c.SellerID != ""
}

// BatchInput is the payload of a checkAsin request.
type BatchInput struct {
	ItemIDs     []string    `json:"asins"`
	Credentials Credentials `json:"credentials"`
	Marketplace string      `json:"marketplace"`
}

var itemSeparator = regexp.MustCompile(`[\s,]+`)

// ParseItemIDs splits free-form user input on whitespace and commas.
func ParseItemIDs(input string) []string {
	var ids []string
	for _, tok := range itemSeparator.Split(input, -1) {
		if tok != "" {
			ids = append(ids, tok)
		}
	}
	return ids
}

// NewCheckItems builds the ordered item list for a batch, keeping the first
// occurrence of any repeated id.
func NewCheckItems(ids []string) []CheckItem {
	seen := make(map[string]bool, len(ids))
	items := make([]CheckItem, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, CheckItem{ItemID: id, SequenceIndex: len(items)})
	}
	return items
}
