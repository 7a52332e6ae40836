package session

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/owlby/owlby-backend/client"
)

// Persistence stores at most one session across process restarts.
type Persistence interface {
	Load() (*client.Session, error)
	Save(*client.Session) error
	Clear() error
}

// sessionRecord is the single-slot durable form of a session. The fixed
// primary key makes every save an upsert of the same row.
type sessionRecord struct {
	ID            int64 `gorm:"primaryKey"`
	UserID        string
	Email         string
	Name          string
	AvatarURL     string
	Provider      string
	EmailVerified bool
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

const sessionSlotID = 1

type sqlitePersistence struct {
	db *gorm.DB
}

// NewSQLitePersistence opens (creating if needed) an app-scoped SQLite file
// holding the durable session slot.
func NewSQLitePersistence(path string) (Persistence, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return &sqlitePersistence{db: db}, nil
}

func (p *sqlitePersistence) Load() (*client.Session, error) {
	var rec sessionRecord
	err := p.db.First(&rec, "id = ?", sessionSlotID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &client.Session{
		User: client.User{
			ID:            rec.UserID,
			Email:         rec.Email,
			Name:          rec.Name,
			AvatarURL:     rec.AvatarURL,
			Provider:      rec.Provider,
			EmailVerified: rec.EmailVerified,
		},
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (p *sqlitePersistence) Save(s *client.Session) error {
	rec := sessionRecord{
		ID:            sessionSlotID,
		UserID:        s.User.ID,
		Email:         s.User.Email,
		Name:          s.User.Name,
		AvatarURL:     s.User.AvatarURL,
		Provider:      s.User.Provider,
		EmailVerified: s.User.EmailVerified,
		AccessToken:   s.AccessToken,
		RefreshToken:  s.RefreshToken,
		ExpiresAt:     s.ExpiresAt,
	}
	if err := p.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *sqlitePersistence) Clear() error {
	err := p.db.Delete(&sessionRecord{}, "id = ?", sessionSlotID).Error
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// memoryPersistence backs the store when no durable path is configured.
type memoryPersistence struct {
	slot *client.Session
}

func NewMemoryPersistence() Persistence { return &memoryPersistence{} }

func (p *memoryPersistence) Load() (*client.Session, error) {
	if p.slot == nil {
		return nil, nil
	}
	copied := *p.slot
	return &copied, nil
}

func (p *memoryPersistence) Save(s *client.Session) error {
	copied := *s
	p.slot = &copied
	return nil
}

func (p *memoryPersistence) Clear() error {
	p.slot = nil
	return nil
}
