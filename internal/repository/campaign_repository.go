package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	// Create inserts c unless a campaign with the same id exists, and
	// reports whether a row was written.
	Create(ctx context.Context, c *model.Campaign) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	GetByPublicToken(ctx context.Context, token string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, clientID, status string) ([]*model.Campaign, int, error)
	// Update runs fn on the locked document and writes the result.
	Update(ctx context.Context, id string, fn func(*model.Campaign) error) (*model.Campaign, error)
	// ApplyStats adds delta to the campaign counters in one transaction.
	ApplyStats(ctx context.Context, id string, delta model.StatsDelta, lastSentAt *time.Time) (*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignCreating
	}
	raw, err := encode(c)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `
        INSERT INTO campaigns (id, client_id, status, public_token, doc, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING
    `, c.ID, c.ClientID, c.Status, c.PublicToken, raw, c.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	return r.getOne(ctx, r.DB, `SELECT doc FROM campaigns WHERE id = $1`, id)
}

func (r *CampaignRepository) GetByPublicToken(ctx context.Context, token string) (*model.Campaign, error) {
	return r.getOne(ctx, r.DB, `SELECT doc FROM campaigns WHERE public_token = $1`, token)
}

func (r *CampaignRepository) getOne(ctx context.Context, q queryer, query, key string) (*model.Campaign, error) {
	var raw []byte
	if err := q.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(key)
		}
		return nil, err
	}
	var c model.Campaign
	if err := decode(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, clientID, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if clientID != "" {
		where += fmt.Sprintf(" AND client_id=$%d", argPos)
		args = append(args, clientID)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT doc FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	campaigns, err := listDocs[model.Campaign](ctx, r.DB, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) Update(ctx context.Context, id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := r.getOne(ctx, tx, `SELECT doc FROM campaigns WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c.UpdatedAt = &now

	raw, err := encode(c)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE campaigns SET doc = $1, status = $2, version = version + 1, updated_at = $3
        WHERE id = $4
    `, raw, c.Status, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ApplyStats(ctx context.Context, id string, delta model.StatsDelta, lastSentAt *time.Time) (*model.Campaign, error) {
	return r.Update(ctx, id, func(c *model.Campaign) error {
		c.Stats.Apply(delta)
		if lastSentAt != nil && (c.LastSentAt == nil || lastSentAt.After(*c.LastSentAt)) {
			t := *lastSentAt
			c.LastSentAt = &t
		}
		return nil
	})
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
