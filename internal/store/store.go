// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}
