package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

// jobs runs dispatch and reconcile passes. A pass already in flight is
// shared with any caller asking for the same job.
type jobs struct {
	dispatcher handler.Dispatcher
	reconciler handler.Reconciler
	log        *zap.Logger
	inflight   singleflight.Group
}

func (j *jobs) run(ctx context.Context, name string) error {
	log := logger.OrNop(j.log).With(zap.String("job", name))
	start := time.Now()
	_, err, shared := j.inflight.Do(name, func() (any, error) {
		switch name {
		case queue.JobDispatch:
			s, err := j.dispatcher.Run(ctx)
			if err == nil {
				log.Info("job finished",
					zap.Int("sent", s.Sent),
					zap.Int("failed", s.Failed),
					zap.Int("pending", s.Pending),
					zap.Int("campaigns", s.CampaignsProcessed),
					zap.Int("recovered", s.Recovered),
					zap.Duration("took", time.Since(start)))
			}
			return s, err
		case queue.JobReconcile:
			s, err := j.reconciler.Run(ctx)
			if err == nil {
				log.Info("job finished",
					zap.Int("campaigns", s.CampaignsChecked),
					zap.Int("replies", s.RepliesDetected),
					zap.Int("clients_failed", s.ClientsFailed),
					zap.Duration("took", time.Since(start)))
			}
			return s, err
		}
		return nil, fmt.Errorf("unknown job %q", name)
	})
	if shared {
		log.Debug("joined running job")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// trigger handles one JobTrigger message. Malformed or unknown triggers are
// dropped; a failing job is returned so the queue retries it.
func (j *jobs) trigger(ctx context.Context) queue.Handler {
	return func(body []byte) error {
		var t queue.JobTrigger
		if err := json.Unmarshal(body, &t); err != nil {
			logger.OrNop(j.log).Warn("dropping malformed trigger", zap.Error(err))
			return nil
		}
		if t.Job != queue.JobDispatch && t.Job != queue.JobReconcile {
			logger.OrNop(j.log).Warn("dropping unknown trigger", zap.String("job", t.Job))
			return nil
		}
		return j.run(ctx, t.Job)
	}
}

// loop runs both jobs on their own tickers until ctx is cancelled. Each job
// also runs once at start.
func (j *jobs) loop(ctx context.Context, dispatchEvery, reconcileEvery time.Duration) {
	tick := func(name string, every time.Duration, done chan<- struct{}) {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			if err := j.run(ctx, name); err != nil && ctx.Err() == nil {
				logger.OrNop(j.log).Error("job failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}

	dispatchDone := make(chan struct{})
	reconcileDone := make(chan struct{})
	go tick(queue.JobDispatch, dispatchEvery, dispatchDone)
	go tick(queue.JobReconcile, reconcileEvery, reconcileDone)
	<-dispatchDone
	<-reconcileDone
}
