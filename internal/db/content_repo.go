package db

// ContentRepository is the campaign content store: newsletters plus the
// subscriber list, sharing one connection pool.
type ContentRepository struct {
	*NewsletterRepository
	*SubscriberRepository
}

// NewContentRepository creates a ContentRepository backed by db.
func NewContentRepository(db DBTX) *ContentRepository {
	return &ContentRepository{
		NewsletterRepository: NewNewsletterRepository(db),
		SubscriberRepository: NewSubscriberRepository(db),
	}
}
