// Package audit records moderation actions. The recorder is fire-and-forget:
// callers never block on persistence and a full buffer drops the event.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultBuffer = 256

// Event is one moderation action.
type Event struct {
	Action    string
	ActorID   string
	TargetID  string
	MeetingID string
	Metadata  map[string]any
}

// Recorder is the sink surface the gateway consumes.
type Recorder interface {
	Record(Event)
}

type auditRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Action    string `gorm:"size:32;index"`
	ActorID   string `gorm:"size:64"`
	TargetID  string `gorm:"size:64"`
	MeetingID string `gorm:"size:36;index"`
	Metadata  string
	CreatedAt time.Time
}

func (auditRecord) TableName() string { return "audit_events" }

// Trail persists events through a buffered channel worker.
type Trail struct {
	db     *gorm.DB
	events chan Event
	done   chan struct{}
}

func NewTrail(db *gorm.DB, buffer int) (*Trail, error) {
	if err := db.AutoMigrate(&auditRecord{}); err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	t := &Trail{
		db:     db,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Record enqueues the event without blocking. When the buffer is full the
// event is dropped; durability is not part of this contract.
func (t *Trail) Record(ev Event) {
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("module", "audit").Str("action", ev.Action).Msg("audit buffer full, event dropped")
	}
}

// Close drains the buffer and stops the worker.
func (t *Trail) Close() {
	close(t.events)
	<-t.done
}

func (t *Trail) run() {
	defer close(t.done)
	for ev := range t.events {
		t.persist(ev)
	}
}

func (t *Trail) persist(ev Event) {
	meta := ""
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			meta = string(b)
		}
	}
	rec := auditRecord{
		ID:        uuid.NewString(),
		Action:    ev.Action,
		ActorID:   ev.ActorID,
		TargetID:  ev.TargetID,
		MeetingID: ev.MeetingID,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.db.Create(&rec).Error; err != nil {
		log.Error().Err(err).Str("module", "audit").Str("action", ev.Action).Msg("audit write failed")
	}
}
