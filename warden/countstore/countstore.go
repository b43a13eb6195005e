// Time-bucketed event counters backing moderation statistics (violations per category,
// sanctions per action, distinct offenders).
package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

var AllPeriods = []string{PeriodTotal, PeriodDay, PeriodHour}

type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
}

// Fetches one counter per value, for a single name and period. Missing counters are zero.
func GetCounts(ctx context.Context, cs CountStore, name string, vals []string, period string) (map[string]int, error) {
	out := make(map[string]int, len(vals))
	for _, v := range vals {
		c, err := cs.GetCount(ctx, name, v, period)
		if err != nil {
			return nil, fmt.Errorf("reading counter %s/%s: %w", name, v, err)
		}
		out[v] = c
	}
	return out, nil
}

func periodBucket(name, val, period string, now time.Time) string {
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		t := now.UTC().Format(time.DateOnly)
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	case PeriodHour:
		t := now.UTC().Format(time.RFC3339)[0:13]
		return fmt.Sprintf("%s/%s/%s", name, val, t)
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}
