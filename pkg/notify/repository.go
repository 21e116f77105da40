package notify

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/itttm127/speech-to-text/pkg/events"
)

// Repository provides CRUD operations for sink-related models.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new sink repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// CreateSink persists a new event sink.
func (r *Repository) CreateSink(ctx context.Context, s *Sink) error {
	return r.db(ctx, false).Create(s).Error
}

// GetByID returns a sink by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Sink, error) {
	var s Sink
	err := r.db(ctx, true).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActive returns all active sinks.
func (r *Repository) ListActive(ctx context.Context) ([]Sink, error) {
	var sinks []Sink
	err := r.db(ctx, true).Where("is_active = ?", true).Find(&sinks).Error
	return sinks, err
}

// ListByEventType returns active sinks subscribed to the given event type.
func (r *Repository) ListByEventType(ctx context.Context, et events.EventType) ([]Sink, error) {
	var sinks []Sink
	// Use JSONB containment operator for efficient lookup.
	err := r.db(ctx, true).
		Where("is_active = ? AND event_types @> ?", true, fmt.Sprintf(`[%q]`, et)).
		Find(&sinks).Error
	return sinks, err
}

// ListAll returns all sinks (for admin listing).
func (r *Repository) ListAll(ctx context.Context) ([]Sink, error) {
	var sinks []Sink
	err := r.db(ctx, true).Find(&sinks).Error
	return sinks, err
}

// Update persists changes to a sink.
func (r *Repository) Update(ctx context.Context, s *Sink) error {
	return r.db(ctx, false).Save(s).Error
}

// Delete soft-deletes a sink.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db(ctx, false).Where("id = ?", id).Delete(&Sink{}).Error
}

// RecordDelivery persists a delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, da *DeliveryAttempt) error {
	return r.db(ctx, false).Create(da).Error
}

// ListDeliveries returns delivery attempts for a sink, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, sinkID string, limit, offset int) ([]DeliveryAttempt, error) {
	var attempts []DeliveryAttempt
	q := r.db(ctx, true).
		Where("sink_id = ?", sinkID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}

// CreateDeadLetter persists a dead-lettered event.
func (r *Repository) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	return r.db(ctx, false).Create(dl).Error
}

// ListDeadLetters returns replayable dead letters for a sink.
func (r *Repository) ListDeadLetters(ctx context.Context, sinkID string) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := r.db(ctx, true).
		Where("sink_id = ? AND replayable = ?", sinkID, true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

// MarkDeadLetterReplayed marks a dead letter as no longer replayable.
func (r *Repository) MarkDeadLetterReplayed(ctx context.Context, id string) error {
	return r.db(ctx, false).
		Model(&DeadLetter{}).
		Where("id = ?", id).
		Update("replayable", false).Error
}
