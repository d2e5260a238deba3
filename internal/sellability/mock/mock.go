// A mock provider for development and testing purposes. It answers from the
// item id alone without making network calls:
//
//	GATED...  approval required (escalates to manual review)
//	BLOCK...  restricted for another reason
//	FAIL...   transient lookup error
//	anything else is sellable
package mock

import (
	"context"
	"strings"

	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/sellability"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) GetInfo() sellability.ProviderInfo {
	return sellability.ProviderInfo{ID: "mock", Name: "Mock"}
}

func (p *Provider) CheckSellability(ctx context.Context, itemID string, _ models.Credentials, _ string) (*sellability.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	summary := &models.ProductSummary{Brand: "Mockbrand", Title: "Mock product " + itemID}

	switch {
	case strings.HasPrefix(itemID, "FAIL"):
		return nil, &sellability.Error{StatusCode: 503, Message: "mock upstream unavailable", Retryable: true}
	case strings.HasPrefix(itemID, "GATED"):
		return &sellability.Verdict{
			ItemID:      itemID,
			ReasonCodes: []string{models.ReasonApprovalRequired},
			Message:     "You need approval to list in this brand.",
			Summary:     summary,
		}, nil
	case strings.HasPrefix(itemID, "BLOCK"):
		return &sellability.Verdict{
			ItemID:      itemID,
			ReasonCodes: []string{"NOT_ELIGIBLE"},
			Message:     "Not eligible for listing.",
			Summary:     summary,
		}, nil
	default:
		return &sellability.Verdict{ItemID: itemID, Sellable: true, Message: "Sellable", Summary: summary}, nil
	}
}
