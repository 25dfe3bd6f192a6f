package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// flagCacheSource adapts the shared flag cache to the participants handler,
// so a monitor instance serves flags raised by any engine on the same Redis.
type flagCacheSource struct {
	cache  domain.FlagCache
	logger *slog.Logger
}

func (s *flagCacheSource) Flagged() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs, err := s.cache.Flagged(ctx)
	if err != nil {
		s.logger.Warn("flag cache read failed", slog.String("error", err.Error()))
		return nil
	}
	return addrs
}
