package transcript

import (
	"context"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"
)

// Repository provides persistence for sessions and their utterances.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a transcript repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// CreateSession persists a new listening session.
func (r *Repository) CreateSession(ctx context.Context, s *ListenSession) error {
	return r.db(ctx, false).Create(s).Error
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id string) (*ListenSession, error) {
	var s ListenSession
	err := r.db(ctx, true).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context, limit, offset int) ([]ListenSession, error) {
	var sessions []ListenSession
	q := r.db(ctx, true).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// UpdateSession persists changes to a session record.
func (r *Repository) UpdateSession(ctx context.Context, s *ListenSession) error {
	return r.db(ctx, false).Save(s).Error
}

// DeleteSession removes a session and its utterances.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if err := r.db(ctx, false).Where("session_id = ?", id).Delete(&Utterance{}).Error; err != nil {
		return err
	}
	return r.db(ctx, false).Where("id = ?", id).Delete(&ListenSession{}).Error
}

// AddUtterance persists a finalized segment and rolls the session's
// denormalized transcript forward.
func (r *Repository) AddUtterance(ctx context.Context, u *Utterance) error {
	if err := r.db(ctx, false).Create(u).Error; err != nil {
		return err
	}
	return r.db(ctx, false).
		Model(&ListenSession{}).
		Where("id = ?", u.SessionID).
		Updates(map[string]interface{}{
			"utterances": gorm.Expr("utterances + 1"),
			"transcript": gorm.Expr("CASE WHEN transcript = '' THEN ? ELSE transcript || ' ' || ? END", u.Text, u.Text),
		}).Error
}

// ListUtterances returns a session's utterances in append order.
func (r *Repository) ListUtterances(ctx context.Context, sessionID string) ([]Utterance, error) {
	var utterances []Utterance
	err := r.db(ctx, true).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&utterances).Error
	return utterances, err
}
