package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// MaxBatchWrite bounds the rows written by one CreateBatch transaction.
const MaxBatchWrite = 500

type RecipientRepositoryInterface interface {
	// CreateBatch inserts up to MaxBatchWrite recipients in one transaction.
	// Rows whose (campaign, email) already exist are skipped; the count of
	// new rows is returned.
	CreateBatch(ctx context.Context, recipients []*model.Recipient) (int, error)
	GetByID(ctx context.Context, id string) (*model.Recipient, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*model.Recipient, error)
	// Transact locks one recipient, runs fn on it and writes it back.
	Transact(ctx context.Context, id string, fn func(*model.Recipient) error) (*model.Recipient, error)
	// ClaimDue moves up to limit due recipients of active campaigns to
	// "sending" and returns them ordered by scheduledFor.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Recipient, error)
	ListStaleSending(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.Recipient, error)
	CountOpen(ctx context.Context, campaignID string) (int, error)
	ListByCampaign(ctx context.Context, campaignID, status string) ([]*model.Recipient, error)
	// ListContacted returns every recipient of a client that has been sent
	// at least one email, across its non-failed campaigns.
	ListContacted(ctx context.Context, clientID string) ([]*model.Recipient, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

func (r *RecipientRepository) CreateBatch(ctx context.Context, recipients []*model.Recipient) (int, error) {
	if len(recipients) > MaxBatchWrite {
		return 0, fmt.Errorf("batch of %d exceeds %d", len(recipients), MaxBatchWrite)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO recipients
            (id, campaign_id, client_id, contact_email_lower, status, scheduled_for, tracking_id, doc, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        ON CONFLICT (campaign_id, contact_email_lower) DO NOTHING
    `)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range recipients {
		raw, err := encode(rec)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, rec.ID, rec.CampaignID, rec.ClientID,
			model.NormalizeEmail(rec.OriginalContact.Email), rec.Status, rec.ScheduledFor, rec.TrackingID, raw, rec.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting recipient %s: %w", rec.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id string) (*model.Recipient, error) {
	return getRecipient(ctx, r.DB, `SELECT doc FROM recipients WHERE id = $1`, id)
}

func (r *RecipientRepository) GetByTrackingID(ctx context.Context, trackingID string) (*model.Recipient, error) {
	return getRecipient(ctx, r.DB, `SELECT doc FROM recipients WHERE tracking_id = $1`, trackingID)
}

func getRecipient(ctx context.Context, q queryer, query, key string) (*model.Recipient, error) {
	var raw []byte
	if err := q.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewRecipientNotFound(key)
		}
		return nil, err
	}
	var rec model.Recipient
	if err := decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) Transact(ctx context.Context, id string, fn func(*model.Recipient) error) (*model.Recipient, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := getRecipient(ctx, tx, `SELECT doc FROM recipients WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := writeRecipient(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func writeRecipient(ctx context.Context, tx *sql.Tx, rec *model.Recipient) error {
	rec.UpdatedAt = time.Now().UTC()
	raw, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        UPDATE recipients
        SET doc = $1, status = $2, scheduled_for = $3, version = version + 1, updated_at = $4
        WHERE id = $5
    `, raw, rec.Status, rec.ScheduledFor, rec.UpdatedAt, rec.ID)
	return err
}

func (r *RecipientRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Recipient, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// SKIP LOCKED lets overlapping runs take disjoint rows
	due, err := listDocs[model.Recipient](ctx, tx, `
        SELECT r.doc
        FROM recipients r
        JOIN campaigns c ON c.id = r.campaign_id
        WHERE r.status = $1 AND r.scheduled_for <= $2 AND c.status = $3
        ORDER BY r.scheduled_for ASC
        LIMIT $4
        FOR UPDATE OF r SKIP LOCKED
    `, model.StatusPending, now, model.CampaignActive, limit)
	if err != nil {
		return nil, err
	}

	claimedAt := now.UTC()
	for _, rec := range due {
		rec.Status = model.StatusSending
		rec.ClaimedAt = &claimedAt
		if err := writeRecipient(ctx, tx, rec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	return due, nil
}

func (r *RecipientRepository) ListStaleSending(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.Recipient, error) {
	return listDocs[model.Recipient](ctx, r.DB, `
        SELECT doc FROM recipients
        WHERE status = $1 AND updated_at < $2
        ORDER BY updated_at ASC
        LIMIT $3
    `, model.StatusSending, claimedBefore, limit)
}

func (r *RecipientRepository) CountOpen(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM recipients WHERE campaign_id = $1 AND status IN ($2, $3)
    `, campaignID, model.StatusPending, model.StatusSending).Scan(&n)
	return n, err
}

func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID, status string) ([]*model.Recipient, error) {
	if status == "" {
		return listDocs[model.Recipient](ctx, r.DB, `
            SELECT doc FROM recipients WHERE campaign_id = $1 ORDER BY scheduled_for ASC, id ASC
        `, campaignID)
	}
	return listDocs[model.Recipient](ctx, r.DB, `
        SELECT doc FROM recipients WHERE campaign_id = $1 AND status = $2 ORDER BY scheduled_for ASC, id ASC
    `, campaignID, status)
}

func (r *RecipientRepository) ListContacted(ctx context.Context, clientID string) ([]*model.Recipient, error) {
	return listDocs[model.Recipient](ctx, r.DB, `
        SELECT r.doc
        FROM recipients r
        JOIN campaigns c ON c.id = r.campaign_id
        WHERE r.client_id = $1
          AND c.status <> $2
          AND r.doc->'email_history' @> '[{}]'::jsonb
        ORDER BY r.id
    `, clientID, model.CampaignFailed)
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
