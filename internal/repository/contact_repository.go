package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// ContactRepositoryInterface reads investor and incubator records.
type ContactRepositoryInterface interface {
	ListByType(ctx context.Context, types ...string) ([]model.Candidate, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// ListByType fetches every contact of the given types, ordered by id so
// ranking ties stay stable between runs.
func (r *ContactRepository) ListByType(ctx context.Context, types ...string) ([]model.Candidate, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, type, doc
        FROM contacts
        WHERE type = ANY($1)
        ORDER BY id
    `, pq.Array(types))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Candidate{}
	for rows.Next() {
		var (
			c   model.Candidate
			id  string
			typ string
			raw []byte
		)
		if err := rows.Scan(&id, &typ, &raw); err != nil {
			return nil, err
		}
		if err := decode(raw, &c); err != nil {
			return nil, err
		}
		c.ID, c.Type = id, typ
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
