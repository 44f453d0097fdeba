package stats

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCheckpointSpec is the cron spec used when none is configured.
const DefaultCheckpointSpec = "@every 30s"

// Saver persists a snapshot.
type Saver interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Checkpointer periodically copies the counters of a Reader into a Saver.
type Checkpointer struct {
	reader Reader
	saver  Saver
	logger *zap.Logger
	cron   *cron.Cron
}

// NewCheckpointer schedules a save on spec, a standard cron expression or
// descriptor such as "@every 30s".
func NewCheckpointer(spec string, r Reader, s Saver, logger *zap.Logger) (*Checkpointer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultCheckpointSpec
	}
	c := &Checkpointer{
		reader: r,
		saver:  s,
		logger: logger,
		cron:   cron.New(),
	}
	if _, err := c.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Checkpoint(ctx); err != nil {
			c.logger.Warn("stats checkpoint failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Start runs the schedule in its own goroutine.
func (c *Checkpointer) Start() { c.cron.Start() }

// Checkpoint saves the current counters once.
func (c *Checkpointer) Checkpoint(ctx context.Context) error {
	snap, err := c.reader.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := c.saver.Save(ctx, snap); err != nil {
		return err
	}
	c.logger.Debug("stats checkpoint saved",
		zap.Int64("totalRooms", snap.TotalRooms),
		zap.Int64("totalUsers", snap.TotalUsers))
	return nil
}

// Stop waits for a running save to finish and writes a final checkpoint.
func (c *Checkpointer) Stop(ctx context.Context) error {
	select {
	case <-c.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Checkpoint(ctx)
}
