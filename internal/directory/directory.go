// Package directory is the read path for meeting records: host identity
// and access policy. Lookups happen on every connect, so reads go through
// a short-lived in-process cache in front of the database.
package directory

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/peergrid/confab/internal/domain"
)

var ErrNotFound = errors.New("meeting not found")

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = 5 * time.Minute
)

// Finder is the lookup surface the core consumes.
type Finder interface {
	Find(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
}

type meetingRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	HostID        string `gorm:"size:64;index"`
	Title         string `gorm:"size:128"`
	LobbyRequired bool
	CreatedAt     time.Time
}

func (meetingRecord) TableName() string { return "meetings" }

func (r meetingRecord) toDomain() *domain.Meeting {
	return &domain.Meeting{
		ID:            domain.MeetingID(r.ID),
		HostID:        domain.ParticipantID(r.HostID),
		Title:         r.Title,
		LobbyRequired: r.LobbyRequired,
		CreatedAt:     r.CreatedAt,
	}
}

// Store implements Finder over GORM with a read-through cache.
type Store struct {
	db    *gorm.DB
	cache *gocache.Cache
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&meetingRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, cache: gocache.New(cacheTTL, cacheCleanup)}, nil
}

func (s *Store) Find(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	if v, ok := s.cache.Get(string(id)); ok {
		return v.(*domain.Meeting), nil
	}
	var rec meetingRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := rec.toDomain()
	s.cache.Set(string(id), m, gocache.DefaultExpiration)
	return m, nil
}

// Create persists a new meeting and primes the cache.
func (s *Store) Create(ctx context.Context, m *domain.Meeting) error {
	rec := meetingRecord{
		ID:            string(m.ID),
		HostID:        string(m.HostID),
		Title:         m.Title,
		LobbyRequired: m.LobbyRequired,
		CreatedAt:     m.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	s.cache.Set(string(m.ID), m, gocache.DefaultExpiration)
	return nil
}
