package db

import (
	"context"
	"errors"
	"fmt"

	"bulletin/internal/types"

	"github.com/jackc/pgx/v5"
)

// NewsletterRepository provides access to the newsletters table.
type NewsletterRepository struct {
	db DBTX
}

// NewNewsletterRepository creates a NewsletterRepository backed by db.
func NewNewsletterRepository(db DBTX) *NewsletterRepository {
	return &NewsletterRepository{db: db}
}

const newsletterColumns = `id, title, subject, body, body_text, COALESCE(body_key, ''),
	status, published_at, created_at, updated_at`

// GetNewsletter returns a newsletter by ID.
func (r *NewsletterRepository) GetNewsletter(ctx context.Context, id string) (*types.Newsletter, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+newsletterColumns+` FROM newsletters WHERE id = $1`,
		id,
	)
	nl, err := scanNewsletter(row)
	if err != nil {
		return nil, mapNewsletterErr(id, "failed to get newsletter", err)
	}
	return nl, nil
}

// PublishNewsletter marks a newsletter published and returns it. Publishing
// an already-published newsletter keeps its original published_at.
func (r *NewsletterRepository) PublishNewsletter(ctx context.Context, id string) (*types.Newsletter, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE newsletters SET
			status = 'published',
			published_at = COALESCE(published_at, NOW()),
			updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+newsletterColumns,
		id,
	)
	nl, err := scanNewsletter(row)
	if err != nil {
		return nil, mapNewsletterErr(id, "failed to publish newsletter", err)
	}
	return nl, nil
}

// Create inserts a newsletter. Used by seeding and tests.
func (r *NewsletterRepository) Create(ctx context.Context, nl *types.Newsletter) error {
	status := nl.Status
	if status == "" {
		status = types.NewsletterDraft
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO newsletters (id, title, subject, body, body_text, body_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		nl.ID,
		nl.Title,
		nl.Subject,
		nl.Body,
		nl.BodyText,
		nilIfEmpty(nl.BodyKey),
		string(status),
	).Scan(&nl.CreatedAt, &nl.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create newsletter", err)
	}
	nl.Status = status
	return nil
}

func scanNewsletter(row pgx.Row) (*types.Newsletter, error) {
	var (
		nl     types.Newsletter
		status string
	)
	if err := row.Scan(
		&nl.ID,
		&nl.Title,
		&nl.Subject,
		&nl.Body,
		&nl.BodyText,
		&nl.BodyKey,
		&status,
		&nl.PublishedAt,
		&nl.CreatedAt,
		&nl.UpdatedAt,
	); err != nil {
		return nil, err
	}
	nl.Status = types.NewsletterStatus(status)
	return &nl, nil
}

func mapNewsletterErr(id, msg string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeNotFoundNewsletter, fmt.Sprintf("newsletter %s not found", id), nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
