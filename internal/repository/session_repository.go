package repository

import (
	"context"
	"errors"
	"time"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) (*domain.Session, error)
	MarkReuseDetectedByHash(ctx context.Context, hash string) error
	RevokeByHash(ctx context.Context, hash, reason string) error
	RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error)
	RevokeByUserID(ctx context.Context, userID, reason string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) record(ctx context.Context, op, outcome string) {
	observability.RecordRepositoryOperation(ctx, "session", op, outcome)
}

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		r.record(ctx, "create", "error")
		return err
	}
	r.record(ctx, "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&s).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		r.record(ctx, "find_by_hash", "not_found")
		return nil, ErrSessionNotFound
	case err != nil:
		r.record(ctx, "find_by_hash", "error")
		return nil, err
	}
	r.record(ctx, "find_by_hash", "success")
	return &s, nil
}

// RotateSession atomically revokes the presented session and inserts its
// replacement. The SELECT ... FOR UPDATE on the live row guarantees that of
// two concurrent refreshes with the same token exactly one wins; the loser
// sees ErrSessionNotFound.
func (r *GormSessionRepository) RotateSession(ctx context.Context, oldHash string, newSession *domain.Session) (*domain.Session, error) {
	var rotated *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("refresh_token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, time.Now()).
			First(&old).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		reason := "rotated"
		if err := tx.Model(&domain.Session{}).Where("id = ?", old.ID).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error; err != nil {
			return err
		}
		if err := tx.Create(newSession).Error; err != nil {
			return err
		}

		old.RevokedAt = &now
		old.RevokedReason = &reason
		rotated = &old
		return nil
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		r.record(ctx, "rotate_session", "not_found")
		return nil, err
	case err != nil:
		r.record(ctx, "rotate_session", "error")
		return nil, err
	}
	r.record(ctx, "rotate_session", "success")
	return rotated, nil
}

func (r *GormSessionRepository) MarkReuseDetectedByHash(ctx context.Context, hash string) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_token_hash = ?", hash).
		Updates(map[string]any{
			"reuse_detected_at": time.Now().UTC(),
			"revoked_reason":    "reuse_detected",
		}).Error
	if err != nil {
		r.record(ctx, "mark_reuse_detected_by_hash", "error")
		return err
	}
	r.record(ctx, "mark_reuse_detected_by_hash", "success")
	return nil
}

// revokeLive stamps revoked_at on every not-yet-revoked session matching
// the condition and reports how many rows it touched.
func (r *GormSessionRepository) revokeLive(ctx context.Context, op, reason, cond string, arg any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where(cond+" AND revoked_at IS NULL", arg).
		Updates(map[string]any{"revoked_at": time.Now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		r.record(ctx, op, "error")
		return res.RowsAffected, res.Error
	}
	r.record(ctx, op, "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash, reason string) error {
	_, err := r.revokeLive(ctx, "revoke_by_hash", reason, "refresh_token_hash = ?", hash)
	return err
}

func (r *GormSessionRepository) RevokeByFamilyID(ctx context.Context, familyID, reason string) (int64, error) {
	return r.revokeLive(ctx, "revoke_by_family_id", reason, "family_id = ?", familyID)
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID, reason string) error {
	_, err := r.revokeLive(ctx, "revoke_by_user_id", reason, "user_id = ?", userID)
	return err
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		r.record(ctx, "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	r.record(ctx, "cleanup_expired", "success")
	return res.RowsAffected, nil
}
