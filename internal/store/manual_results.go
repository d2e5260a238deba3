package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/vrsandeep/fastchecker/internal/models"
)

const manualResultsTable = "manual_results"

// ManualResultStore is the durable item_id -> manual_status mapping. Entries
// are only ever inserted or overwritten.
type ManualResultStore interface {
	PutManualResult(ctx context.Context, itemID string, status models.ManualStatus) error
	GetManualResult(ctx context.Context, itemID string) (models.ManualStatus, bool, error)
	LoadManualResults(ctx context.Context) (map[string]models.ManualStatus, error)
	CountManualResults(ctx context.Context) (int, error)
}

var _ ManualResultStore = (*Store)(nil)

// PutManualResult upserts the verdict for itemID.
func (s *Store) PutManualResult(ctx context.Context, itemID string, status models.ManualStatus) error {
	_, err := s.sb.Insert(manualResultsTable).
		Columns("item_id", "manual_status", "updated_at").
		Values(itemID, string(status), time.Now().UTC()).
		Suffix("ON CONFLICT(item_id) DO UPDATE SET manual_status = excluded.manual_status, updated_at = excluded.updated_at").
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to store manual result for %s: %w", itemID, err)
	}
	return nil
}

// GetManualResult returns the stored verdict for itemID, if any.
func (s *Store) GetManualResult(ctx context.Context, itemID string) (models.ManualStatus, bool, error) {
	var status string
	err := s.sb.Select("manual_status").
		From(manualResultsTable).
		Where(sq.Eq{"item_id": itemID}).
		QueryRowContext(ctx).
		Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ManualNone, false, nil
	}
	if err != nil {
		return models.ManualNone, false, err
	}
	return models.ManualStatus(status), true, nil
}

// LoadManualResults returns the whole store.
func (s *Store) LoadManualResults(ctx context.Context) (map[string]models.ManualStatus, error) {
	rows, err := s.sb.Select("item_id", "manual_status").
		From(manualResultsTable).
		OrderBy("updated_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load manual results: %w", err)
	}
	defer rows.Close()

	results := make(map[string]models.ManualStatus)
	for rows.Next() {
		var itemID, status string
		if err := rows.Scan(&itemID, &status); err != nil {
			return nil, err
		}
		results[itemID] = models.ManualStatus(status)
	}
	return results, rows.Err()
}

func (s *Store) CountManualResults(ctx context.Context) (int, error) {
	var n int
	err := s.sb.Select("COUNT(*)").From(manualResultsTable).QueryRowContext(ctx).Scan(&n)
	return n, err
}
