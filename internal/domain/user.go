package domain

import "time"

// User is the application identity record. Exactly one row exists per
// email; federated identities are linked via GoogleID/AppleID and are
// unique where present.
type User struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Email         string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	PasswordHash  *string    `gorm:"size:128" json:"-"`
	GoogleID      *string    `gorm:"size:128;uniqueIndex" json:"google_id,omitempty"`
	AppleID       *string    `gorm:"size:128;uniqueIndex" json:"apple_id,omitempty"`
	Avatar        *string    `gorm:"size:512" json:"avatar,omitempty"`
	EmailVerified bool       `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `gorm:"index" json:"-"`
}
