// Package sellability defines the lookup contract the batch loop depends on:
// given an item id and marketplace credentials, return whether the seller
// may list the item.
package sellability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vrsandeep/fastchecker/internal/models"
)

var ErrUnsupportedMarketplace = errors.New("unsupported marketplace")

// Verdict is the lookup outcome for one item.
type Verdict struct {
	ItemID      string
	Sellable    bool
	ReasonCodes []string
	Message     string
	Summary     *models.ProductSummary
}

// Client performs sellability lookups.
type Client interface {
	CheckSellability(ctx context.Context, itemID string, creds models.Credentials, marketplace string) (*Verdict, error)
}

// ProviderInfo contains static information about a provider.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider is a named Client implementation.
type Provider interface {
	Client
	GetInfo() ProviderInfo
}

// Error is a lookup failure. Retryable marks transient failures such as
// throttling, upstream 5xx and network errors.
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%d - %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// IsRetryable reports whether err is a transient lookup failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// Registry holds the providers available to the agent.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a new provider to the registry. It's called at startup.
func (r *Registry) Register(p Provider) {
	info := p.GetInfo()
	if _, exists := r.providers[info.ID]; exists {
		// Panic is appropriate here as it's a developer error during setup.
		panic(fmt.Sprintf("provider with ID '%s' is already registered", info.ID))
	}
	r.providers[info.ID] = p
}

// Get returns a provider by its ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// GetAll returns information for all registered providers, sorted by ID.
func (r *Registry) GetAll() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		infos = append(infos, p.GetInfo())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
