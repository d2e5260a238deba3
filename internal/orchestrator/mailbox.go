package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vrsandeep/fastchecker/internal/models"
)

// Submitter hands an item to the relay mailbox for manual review.
type Submitter interface {
	Submit(ctx context.Context, itemID string) error
}

// Mailbox posts new-item notices to the relay over HTTP.
type Mailbox struct {
	url    string
	client *http.Client
}

func NewMailbox(url string) *Mailbox {
	return &Mailbox{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (m *Mailbox) Submit(ctx context.Context, itemID string) error {
	body, err := json.Marshal(models.NewItemNotice{ItemID: itemID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailbox submit failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailbox submit failed: %s", resp.Status)
	}
	return nil
}
