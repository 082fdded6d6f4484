package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartJanitor schedules PurgeExpired on the given cron spec. The returned
// scheduler must be stopped by the caller.
func (s *Service) StartJanitor(spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = "@every 1h"
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.PurgeExpired(ctx)
		if err != nil {
			s.log.Error("token janitor failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.log.Info("purged expired tokens", zap.Int64("count", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule token janitor: %w", err)
	}
	c.Start()
	return c, nil
}
