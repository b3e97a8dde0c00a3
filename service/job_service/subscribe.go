package job_service

import (
	"context"
	"encoding/json"
	"sync"

	"bundle-packager/database"
	"bundle-packager/logger"
	"bundle-packager/model"
)

// SubscribeProgress streams the events of jobID. With Redis enabled the events of
// every instance arrive through pub/sub, otherwise only this process's hub is used.
// The returned func must be called to release the subscription.
func (o *Orchestrator) SubscribeProgress(ctx context.Context, jobID string) (<-chan model.ProgressEvent, func()) {
	if !database.IsRedisEnabled() {
		return o.hub.Subscribe(jobID)
	}

	msgs, closeSub := database.Subscribe(ctx, ProgressChannel(jobID))
	if msgs == nil {
		return o.hub.Subscribe(jobID)
	}

	out := make(chan model.ProgressEvent, subscriberBuffer)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.DebugKV(ctx, "Dropping malformed progress message", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					o.hub.dropped.Add(1)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			if err := closeSub(); err != nil {
				logger.DebugKV(ctx, "Failed to close progress subscription", "error", err)
			}
		})
	}
}
