package domain

import "time"

// Session is the server-side record of one issued refresh token. The raw
// token never touches the database; lookups go through its peppered hash.
//
// TokenID, FamilyID and ParentTokenID record rotation lineage: every
// rotation keeps the FamilyID and chains ParentTokenID to the predecessor,
// so a replayed old token can be traced to its family and the whole family
// revoked at once.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           string     `gorm:"size:36;index;not null" json:"user_id"`
	RefreshTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	TokenID          *string    `gorm:"size:64;uniqueIndex" json:"-"`
	FamilyID         *string    `gorm:"size:64;index" json:"-"`
	ParentTokenID    *string    `gorm:"size:64;index" json:"-"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IP               string     `gorm:"size:64" json:"ip"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt        *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason    *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	ReuseDetectedAt  *time.Time `gorm:"index" json:"reuse_detected_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
