package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// ErrorLogRepositoryInterface is the append-only send failure log.
type ErrorLogRepositoryInterface interface {
	Append(ctx context.Context, e *model.CampaignError) error
	ListByCampaign(ctx context.Context, campaignID string) ([]model.CampaignError, error)
}

type ErrorLogRepository struct {
	DB *sql.DB
}

func (r *ErrorLogRepository) Append(ctx context.Context, e *model.CampaignError) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO campaign_errors (id, campaign_id, recipient_id, category, message, friendly_message, attempt, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, e.ID, e.CampaignID, e.RecipientID, e.Category, e.Message, e.FriendlyMessage, e.Attempt, e.CreatedAt)
	return err
}

func (r *ErrorLogRepository) ListByCampaign(ctx context.Context, campaignID string) ([]model.CampaignError, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, campaign_id, recipient_id, category, message, friendly_message, attempt, created_at
        FROM campaign_errors
        WHERE campaign_id = $1
        ORDER BY created_at DESC, id
    `, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CampaignError{}
	for rows.Next() {
		var e model.CampaignError
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.RecipientID, &e.Category, &e.Message,
			&e.FriendlyMessage, &e.Attempt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplyRepositoryInterface records inbound messages per client mailbox.
type ReplyRepositoryInterface interface {
	Exists(ctx context.Context, clientID, messageID string) (bool, error)
	// Save records reply unless the client already has its message id.
	// saved is false for a duplicate.
	Save(ctx context.Context, reply *model.CampaignReply) (saved bool, err error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*model.CampaignReply, error)
}

type ReplyRepository struct {
	DB *sql.DB
}

func (r *ReplyRepository) Exists(ctx context.Context, clientID, messageID string) (bool, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM campaign_replies
        WHERE client_id = $1 AND message_id = $2`, clientID, messageID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ReplyRepository) Save(ctx context.Context, reply *model.CampaignReply) (bool, error) {
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	raw, err := encode(reply)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `
        INSERT INTO campaign_replies (id, client_id, campaign_id, recipient_id, message_id, status, doc, created_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
        ON CONFLICT (client_id, message_id) DO NOTHING
    `, reply.ID, reply.ClientID, reply.CampaignID, reply.RecipientID, reply.MessageID, reply.Status, raw, reply.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ReplyRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*model.CampaignReply, error) {
	return listDocs[model.CampaignReply](ctx, r.DB, `
        SELECT doc FROM campaign_replies WHERE campaign_id = $1 ORDER BY created_at DESC
    `, campaignID)
}

type AuditRepositoryInterface interface {
	Append(ctx context.Context, e *model.AuditEntry) error
}

type AuditRepository struct {
	DB *sql.DB
}

func (r *AuditRepository) Append(ctx context.Context, e *model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := encode(e.Details)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        INSERT INTO audit_log (id, actor, action, campaign_id, client_id, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, e.ID, e.Actor, e.Action, e.CampaignID, e.ClientID, details, e.CreatedAt)
	return err
}

var (
	_ ErrorLogRepositoryInterface = (*ErrorLogRepository)(nil)
	_ ReplyRepositoryInterface    = (*ReplyRepository)(nil)
	_ AuditRepositoryInterface    = (*AuditRepository)(nil)
)
