package domain

import "time"

// LearningNode is a single unit of learning content.
type LearningNode struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Difficulty string    `gorm:"size:32;not null" json:"difficulty"`
	Topic      string    `gorm:"size:128;index;not null" json:"topic"`
	CreatedBy  string    `gorm:"size:36;index" json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
