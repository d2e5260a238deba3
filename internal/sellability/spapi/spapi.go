package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/sellability"
)

const (
	naEndpoint = "https://sellingpartnerapi-na.amazon.com"
	euEndpoint = "https://sellingpartnerapi-eu.amazon.com"
	feEndpoint = "https://sellingpartnerapi-fe.amazon.com"

	defaultTokenURL = "https://api.amazon.com/auth/o2/token"
	tokenSafety     = time.Minute
)

type marketplace struct {
	endpoint string
	id       string
}

var marketplaces = map[string]marketplace{
	"US": {naEndpoint, "ATVPDKIKX0DER"},
	"CA": {naEndpoint, "A2EUQ1WTGCTBG2"},
	"MX": {naEndpoint, "A1AM78C64UM0Y8"},
	"BR": {naEndpoint, "A2Q3Y263D00KWC"},
	"DE": {euEndpoint, "A1PA6795UKMFR9"},
	"ES": {euEndpoint, "A1RKKUPIHCS9HS"},
	"FR": {euEndpoint, "A13V1IB3VIYZZH"},
	"IT": {euEndpoint, "APJ6JRA9NG5V4"},
	"NL": {euEndpoint, "A1805IZSGTT6HS"},
	"UK": {euEndpoint, "A1F83G8C2ARO7P"},
	"SE": {euEndpoint, "A2NODRKZP88ZB9"},
	"PL": {euEndpoint, "A1C3SOZRARQ6R3"},
	"EG": {euEndpoint, "ARBP9OOSHTCHU"},
	"TR": {euEndpoint, "A33AVAJ2PDY3EV"},
	"SA": {euEndpoint, "A17E79C6D8DWNP"},
	"AE": {euEndpoint, "A2VIGQ35RCS4UG"},
	"IN": {euEndpoint, "A21TJRUUN4KGV"},
	"JP": {feEndpoint, "A1VC38T7YXB528"},
	"AU": {feEndpoint, "A39IBJ37TRP1C6"},
	"SG": {feEndpoint, "A19VAU5U5O7RUS"},
}

// Provider implements sellability.Provider against the Selling Partner API:
// listing restrictions decide sellability, the catalog supplies brand and title.
type Provider struct {
	client   *http.Client
	tokenURL string
	endpoint string // overrides the regional endpoint when set

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	tokenFor    string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTokenURL points token refreshes at url.
func WithTokenURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.tokenURL = url
		}
	}
}

// WithEndpoint sends every API call to endpoint regardless of marketplace.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a new instance of the SP-API provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		client:   &http.Client{Timeout: 20 * time.Second},
		tokenURL: defaultTokenURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetInfo returns static information about this provider.
func (p *Provider) GetInfo() sellability.ProviderInfo {
	return sellability.ProviderInfo{ID: "spapi", Name: "Selling Partner API"}
}

// CheckSellability looks up listing restrictions for itemID. Catalog lookup
// failures are tolerated; restriction lookup failures are returned.
func (p *Provider) CheckSellability(ctx context.Context, itemID string, creds models.Credentials, marketplaceCode string) (*sellability.Verdict, error) {
	mp, ok := marketplaces[strings.ToUpper(marketplaceCode)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sellability.ErrUnsupportedMarketplace, marketplaceCode)
	}
	if p.endpoint != "" {
		mp.endpoint = p.endpoint
	}

	token, err := p.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	var restrictions restrictionsResponse
	err = p.get(ctx, mp.endpoint, "/listings/2021-08-01/restrictions", token, url.Values{
		"asin":           {itemID},
		"sellerId":       {creds.SellerID},
		"marketplaceIds": {mp.id},
		"conditionType":  {"new_new"},
	}, &restrictions)
	if err != nil {
		return nil, err
	}

	summary := &models.ProductSummary{Brand: "N/A", Title: "N/A"}
	var catalog catalogResponse
	err = p.get(ctx, mp.endpoint, "/catalog/2022-04-01/items/"+url.PathEscape(itemID), token, url.Values{
		"marketplaceIds": {mp.id},
		"includedData":   {"summaries"},
	}, &catalog)
	if err == nil && len(catalog.Summaries) > 0 {
		summary = &models.ProductSummary{Brand: catalog.Summaries[0].Brand, Title: catalog.Summaries[0].ItemName}
	}

	v := &sellability.Verdict{
		ItemID:   itemID,
		Sellable: len(restrictions.Restrictions) == 0,
		Summary:  summary,
		Message:  "Sellable",
	}
	for _, r := range restrictions.Restrictions {
		for _, reason := range r.Reasons {
			if reason.ReasonCode != "" {
				v.ReasonCodes = append(v.ReasonCodes, reason.ReasonCode)
			}
		}
	}
	if !v.Sellable {
		v.Message = "Approval required."
		if rs := restrictions.Restrictions[0].Reasons; len(rs) > 0 && rs[0].Message != "" {
			v.Message = rs[0].Message
		}
	}
	return v, nil
}

// accessToken exchanges the refresh token for an access token, reusing the
// cached one until shortly before it expires.
func (p *Provider) accessToken(ctx context.Context, creds models.Credentials) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.tokenFor == creds.RefreshToken && time.Now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &sellability.Error{Message: fmt.Sprintf("token request failed: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = resp.Status
		}
		return "", &sellability.Error{
			StatusCode: resp.StatusCode,
			Message:    "token request failed: " + msg,
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	p.token = tr.AccessToken
	p.tokenFor = creds.RefreshToken
	p.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSafety)
	return p.token, nil
}

func (p *Provider) get(ctx context.Context, endpoint, path, token string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &sellability.Error{Message: fmt.Sprintf("API request failed: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &sellability.Error{Message: fmt.Sprintf("failed to read response: %v", err), Retryable: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		msg := "Unknown API Error"
		if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			msg = apiErr.Errors[0].Message
		}
		return &sellability.Error{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
