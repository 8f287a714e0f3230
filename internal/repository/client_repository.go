package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// ClientRepositoryInterface defines methods used by services
type ClientRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Client, error)
	// ListWithActiveCampaigns returns clients owning at least one active campaign.
	ListWithActiveCampaigns(ctx context.Context) ([]*model.Client, error)
	Save(ctx context.Context, c *model.Client) error
}

type ClientRepository struct {
	DB *sql.DB
}

func (r *ClientRepository) GetByID(ctx context.Context, id string) (*model.Client, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `SELECT doc FROM clients WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewClientNotFound(id)
		}
		return nil, err
	}
	var c model.Client
	if err := decode(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) ListWithActiveCampaigns(ctx context.Context) ([]*model.Client, error) {
	return listDocs[model.Client](ctx, r.DB, `
        SELECT cl.doc
        FROM clients cl
        WHERE EXISTS (
            SELECT 1 FROM campaigns c WHERE c.client_id = cl.id AND c.status = $1
        )
        ORDER BY cl.id
    `, model.CampaignActive)
}

func (r *ClientRepository) Save(ctx context.Context, c *model.Client) error {
	raw, err := encode(c)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        INSERT INTO clients (id, doc) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
    `, c.ID, raw)
	return err
}

var _ ClientRepositoryInterface = (*ClientRepository)(nil)
