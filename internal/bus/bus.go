// Package bus fans progress events out to live observers across process
// boundaries. It is a best-effort channel, independent of the durable job
// record store; observers reconcile by reading the store on connect, never
// by relying on the bus alone.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/model"
)

const channelPrefix = "job_progress:"

// AllJobsPattern matches every per-job channel, for operational tooling that
// watches all jobs at once.
const AllJobsPattern = channelPrefix + "*"

// Bus publishes and subscribes to per-job progress channels over Redis
// pub/sub. Events published while a job has no subscribers are dropped;
// there is no replay or history.
type Bus struct {
	redis *redis.Client
}

func NewBus(redisClient *redis.Client) *Bus {
	return &Bus{redis: redisClient}
}

// Publish broadcasts a progress event for its job. It is fire-and-forget:
// delivery problems are logged and never surfaced to the caller.
func (b *Bus) Publish(ctx context.Context, ev model.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal progress event for job %s: %v", ev.JobID, err)
		return
	}

	if err := b.redis.Publish(ctx, channelPrefix+ev.JobID, data).Err(); err != nil {
		log.Printf("Failed to publish progress for job %s: %v", ev.JobID, err)
	}
}

// Subscribe yields a live stream of events for one job, starting with the
// next event published after the subscription is established. Each
// subscriber receives an independent copy. The returned func tears the
// subscription down and closes the channel.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan model.ProgressEvent, func()) {
	sub := b.redis.Subscribe(ctx, channelPrefix+jobID)
	return b.pump(ctx, sub)
}

// SubscribeAll yields events for every job. Ordering is preserved per job
// but not across jobs.
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan model.ProgressEvent, func()) {
	sub := b.redis.PSubscribe(ctx, AllJobsPattern)
	return b.pump(ctx, sub)
}

func (b *Bus) pump(ctx context.Context, sub *redis.PubSub) (<-chan model.ProgressEvent, func()) {
	out := make(chan model.ProgressEvent, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev model.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("Dropping malformed progress event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := sub.Close(); err != nil {
			log.Printf("Failed to close progress subscription: %v", err)
		}
	}
	return out, cancel
}
