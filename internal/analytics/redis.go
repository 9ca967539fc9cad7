// Package analytics implements ExecutionAnalytics: an optional, strictly
// best-effort TriggerListener that rolls up per-job fire counts into
// Redis. It has no effect on scheduling correctness — every error is
// logged and swallowed, never propagated back into the firing loop.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/quartzcore/internal/listener"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// RedisListener pipelines an INCR+EXPIRE into Redis on every trigger_fired,
// keyed by (job group, job name, time bucket). It implements
// listener.TriggerListener but only acts on TriggerFired; the other
// lifecycle hooks are no-ops.
type RedisListener struct {
	client *redis.Client
	window time.Duration
	ttl    time.Duration
	ctxTO  time.Duration
}

// NewRedisListener returns a listener that buckets counters into windows
// of the given size and expires each bucket key after ttl.
func NewRedisListener(client *redis.Client, window, ttl time.Duration) *RedisListener {
	if window <= 0 {
		window = time.Minute
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisListener{client: client, window: window, ttl: ttl, ctxTO: 2 * time.Second}
}

func (l *RedisListener) Name() string { return "execution-analytics" }

func (l *RedisListener) TriggerFired(ctx listener.ExecutionContext) {
	if l.client == nil || ctx.JobDetail == nil {
		return
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), l.ctxTO)
	defer cancel()

	key := bucketKey(ctx.JobDetail.Key.Group, ctx.JobDetail.Key.Name, ctx.ActualFireTime, l.window)

	pipe := l.client.Pipeline()
	pipe.Incr(ctxTimeout, key)
	pipe.Expire(ctxTimeout, key, l.ttl)

	if _, err := pipe.Exec(ctxTimeout); err != nil {
		log.Printf("analytics: redis pipeline failed for %s: %v", key, err)
	}
}

func (l *RedisListener) VetoJobExecution(ctx listener.ExecutionContext) bool { return false }
func (l *RedisListener) TriggerMisfired(t *trigger.Trigger)                 {}
func (l *RedisListener) TriggerComplete(listener.ExecutionContext, listener.Result, trigger.CompletionInstruction) {
}

func bucketKey(group, name string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("quartzcore:fires:%s:%s:%s", group, name, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Truncate(window).Format("200601021504")
	}
}

var _ listener.TriggerListener = (*RedisListener)(nil)
