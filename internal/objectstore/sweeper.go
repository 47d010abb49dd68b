package objectstore

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"nbexec/internal/metrics"
	"nbexec/internal/storage"
)

// Sweeper periodically removes expired objects and grant records.
type Sweeper struct {
	cron   *cron.Cron
	db     *storage.DB
	logger zerolog.Logger
}

// NewSweeper creates a sweeper running on schedule, a standard five-field
// cron expression or a descriptor such as "@every 10m".
func NewSweeper(db *storage.DB, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	logger = logger.With().Str("component", "sweeper").Logger()
	s := &Sweeper{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		db:     db,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the schedule; the returned context is done once a running
// sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep runs one pass and returns the number of objects removed.
func (s *Sweeper) Sweep() int64 {
	objects, err := s.db.ObjectCleanExpired()
	if err != nil {
		s.logger.Error().Err(err).Msg("clean expired objects failed")
		return 0
	}
	grants, err := s.db.GrantCleanExpired()
	if err != nil {
		s.logger.Error().Err(err).Msg("clean expired grants failed")
	}

	metrics.ObjectsSwept.Add(float64(objects))

	stats, err := s.db.Stats()
	if err != nil {
		s.logger.Error().Err(err).Msg("read object store stats failed")
		return objects
	}
	metrics.ObjectsStored.Set(float64(stats.Objects))
	metrics.ObjectBytes.Set(float64(stats.Bytes))
	if objects > 0 || grants > 0 {
		s.logger.Info().
			Int64("objects", objects).
			Int64("grants", grants).
			Int64("remaining", stats.Objects).
			Str("size", humanize.Bytes(uint64(stats.Bytes))).
			Msg("swept expired entries")
	}
	return objects
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
