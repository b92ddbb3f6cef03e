package database

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// AuditRetentionJob schedules a daily sweep that hard-deletes audit events
// past their tenant's (or the engine's default) retention window.
type AuditRetentionJob struct {
	cron *cron.Cron
}

// StartAuditRetentionJob registers and starts the sweep on a "@every 24h"
// schedule. Call Stop when the process shuts down.
func StartAuditRetentionJob(audit *AuditLog, defaultDays int) (*AuditRetentionJob, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "audit_retention").Logger()
	c := cron.New()

	_, err := c.AddFunc("@every 24h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := audit.RetentionSweep(ctx, defaultDays)
		if err != nil {
			logger.Error().Err(err).Msg("audit retention sweep failed")
			return
		}
		logger.Info().Int64("deleted", deleted).Msg("audit retention sweep completed")
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return &AuditRetentionJob{cron: c}, nil
}

// Stop halts the scheduled sweep, waiting for any in-flight run to finish.
func (j *AuditRetentionJob) Stop() {
	if j == nil || j.cron == nil {
		return
	}
	ctx := j.cron.Stop()
	<-ctx.Done()
}
