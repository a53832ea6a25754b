package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/core"
)

// StartSweeper schedules periodic eviction of rooms that have been empty
// longer than ttl. Rooms are otherwise never destroyed, so without the
// sweep the registry grows for the life of the process.
func StartSweeper(reg *core.Registry, schedule string, ttl time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		reg.SweepIdle(ttl)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Info().Str("module", "app.sweeper").Str("schedule", schedule).
		Dur("room_idle_ttl", ttl).Msg("room sweeper started")
	return c, nil
}
