package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

type windowSweeper interface {
	Sweep() int
}

// NewRateLimitSweepJob builds the job that drops expired in-memory rate
// limit windows.
func NewRateLimitSweepJob(logg *logger.Logger, sweeper windowSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &rateLimitSweepJob{logg: logg, sweeper: sweeper}, nil
}

type rateLimitSweepJob struct {
	logg    *logger.Logger
	sweeper windowSweeper
}

func (j *rateLimitSweepJob) Name() string { return "rate-limit-sweep" }

func (j *rateLimitSweepJob) Run(ctx context.Context) error {
	removed := j.sweeper.Sweep()
	j.logg.Info(j.logg.WithField(ctx, "removed", removed), "rate limit sweep complete")
	return nil
}
