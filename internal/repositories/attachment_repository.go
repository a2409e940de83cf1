package repositories

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"chat-backend/internal/models"
)

var attachmentColumns = []string{"id", "message_id", "name", "mime", "size", "path", "created_at"}

// AttachmentRepository persists message attachments.
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error)
	ListByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error)
	DeleteByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error)
}

// AttachmentRepo is a sqlx implementation of AttachmentRepository.
type AttachmentRepo struct {
	q querier
}

// CreateAttachment stores attachment metadata.
func (r *AttachmentRepo) CreateAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error) {
	var out models.Attachment
	err := get(ctx, r.q, &out, psql.Insert("message_attachments").
		Columns("message_id", "name", "mime", "size", "path").
		Values(a.MessageID, a.Name, a.Mime, a.Size, a.Path).
		Suffix("RETURNING "+joinColumns(attachmentColumns)))
	return out, err
}

// ListByMessages returns the attachments of the given messages ordered by id.
func (r *AttachmentRepo) ListByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return []models.Attachment{}, nil
	}
	var list []models.Attachment
	err := selectAll(ctx, r.q, &list, psql.Select(attachmentColumns...).
		From("message_attachments").
		Where(sq.Eq{"message_id": messageIDs}).
		OrderBy("id"))
	return list, err
}

// DeleteByMessages removes the attachment rows and returns them so files can be cleaned up.
func (r *AttachmentRepo) DeleteByMessages(ctx context.Context, messageIDs []int) ([]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var list []models.Attachment
	err := selectAll(ctx, r.q, &list, psql.Delete("message_attachments").
		Where(sq.Eq{"message_id": messageIDs}).
		Suffix("RETURNING "+joinColumns(attachmentColumns)))
	return list, err
}
