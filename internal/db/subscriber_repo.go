package db

import (
	"context"

	"bulletin/internal/types"
)

// SubscriberRepository provides access to the subscribers table.
type SubscriberRepository struct {
	db DBTX
}

// NewSubscriberRepository creates a SubscriberRepository backed by db.
func NewSubscriberRepository(db DBTX) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// ListActiveSubscribers returns every active subscriber in signup order.
func (r *SubscriberRepository) ListActiveSubscribers(ctx context.Context) ([]types.Subscriber, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, email, name, user_id, status, created_at
		 FROM subscribers
		 WHERE status = 'active'
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscribers", err)
	}
	defer rows.Close()

	var out []types.Subscriber
	for rows.Next() {
		var (
			s      types.Subscriber
			status string
		)
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &s.UserID, &status, &s.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscriber", err)
		}
		s.Status = types.SubscriberStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscribers", err)
	}
	return out, nil
}

// MarkBounced flags a subscriber whose address permanently bounced so later
// campaigns skip it.
func (r *SubscriberRepository) MarkBounced(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscribers SET status = 'bounced'
		 WHERE lower(email) = lower($1) AND status = 'active'`,
		email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscriber bounced", err)
	}
	return nil
}
