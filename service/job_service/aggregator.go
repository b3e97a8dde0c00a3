package job_service

import (
	"context"
	"fmt"

	"bundle-packager/database"
	"bundle-packager/logger"
	"bundle-packager/model"
)

const progressChannelPrefix = "packager:progress:"

// ProgressChannel redis channel carrying the events of one job
func ProgressChannel(jobID string) string {
	return progressChannelPrefix + jobID
}

// eventSink applies a task event to job state. It returns the job-progress event to
// fan out, and false when the event is stale and must be dropped.
type eventSink interface {
	applyEvent(ev *model.ProgressEvent) (*model.ProgressEvent, bool)
}

// Aggregator is the single consumer of the progress channel
type Aggregator struct {
	events <-chan model.ProgressEvent
	sink   eventSink
	hub    *Hub
	last   map[string]int // taskId -> last forwarded progress
	done   chan struct{}
}

func newAggregator(events <-chan model.ProgressEvent, sink eventSink, hub *Hub) *Aggregator {
	return &Aggregator{
		events: events,
		sink:   sink,
		hub:    hub,
		last:   make(map[string]int),
		done:   make(chan struct{}),
	}
}

// Run consumes until the channel is closed
func (a *Aggregator) Run() {
	defer close(a.done)
	for ev := range a.events {
		a.handle(ev)
	}
}

// Done is closed once Run returns
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

func (a *Aggregator) handle(ev model.ProgressEvent) {
	if ev.Type.IsTaskEvent() && ev.TaskId != "" {
		if last, ok := a.last[ev.TaskId]; ok && ev.Progress < last {
			ev.Progress = last
		}
		switch ev.Type {
		case model.EventPackagingCompleted, model.EventPackagingFailed, model.EventPackagingCancelled:
			delete(a.last, ev.TaskId)
		default:
			a.last[ev.TaskId] = ev.Progress
		}

		jobEv, ok := a.sink.applyEvent(&ev)
		if !ok {
			return
		}
		a.fanOut(ev)
		if jobEv != nil {
			a.fanOut(*jobEv)
		}
		return
	}
	a.fanOut(ev)
}

func (a *Aggregator) fanOut(ev model.ProgressEvent) {
	a.hub.Publish(ev)
	if database.IsRedisEnabled() {
		if err := database.Publish(ProgressChannel(ev.JobId), ev); err != nil {
			logger.WarnKV(context.Background(), "Failed to publish progress", "jobId", ev.JobId, "error", err)
		}
	}
}

// aggregate derives job status, progress and message from the latest task of every
// requested platform. Cancelled tasks take no part.
func aggregate(platforms []model.Platform, latest map[model.Platform]*model.PlatformTask) (model.JobStatus, int, string) {
	counted, sum, active, succeeded, failed := 0, 0, 0, 0, 0
	for _, p := range platforms {
		t := latest[p]
		if t == nil {
			counted++
			active++
			continue
		}
		if t.Status == model.TaskStatusCancelled {
			continue
		}
		counted++
		sum += t.Progress
		switch t.Status {
		case model.TaskStatusCompleted:
			succeeded++
		case model.TaskStatusFailed:
			failed++
		default:
			active++
		}
	}

	if counted == 0 {
		return model.JobStatusFailed, 0, "all platforms cancelled"
	}
	progress := sum / counted
	if active > 0 {
		return model.JobStatusProcessing, progress, fmt.Sprintf("%d of %d platforms finished", succeeded+failed, counted)
	}
	return model.JobStatusCompleted, progress, fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
}
