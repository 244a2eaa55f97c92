package punch

import (
	"context"
	"time"
)

// WatchTodaySessions emits the user's today list on an interval, starting
// with an immediate snapshot. The channel closes when ctx ends.
func (s *Service) WatchTodaySessions(ctx context.Context, userID string, interval time.Duration) <-chan []Session {
	return s.watch(ctx, interval, func(ctx context.Context) []Session {
		return s.GetTodaySessions(ctx, userID)
	})
}

// WatchCompanyToday emits the caller's company-wide today list on an
// interval.
func (s *Service) WatchCompanyToday(ctx context.Context, interval time.Duration) <-chan []Session {
	return s.watch(ctx, interval, func(ctx context.Context) []Session {
		return s.GetTodayCompanyPunches(ctx)
	})
}

// WatchRecentSessions emits the user's recent sessions on an interval.
func (s *Service) WatchRecentSessions(ctx context.Context, userID string, limit int, interval time.Duration) <-chan []Session {
	return s.watch(ctx, interval, func(ctx context.Context) []Session {
		return s.GetRecentSessions(ctx, userID, limit)
	})
}

func (s *Service) watch(ctx context.Context, interval time.Duration, fetch func(context.Context) []Session) <-chan []Session {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ch := make(chan []Session, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		emit := func() {
			snap := fetch(ctx)
			// A slow consumer keeps only the latest snapshot.
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- snap:
				default:
				}
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return ch
}
