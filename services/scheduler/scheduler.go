// Package schedulersvc runs the periodic jobs of the API.
package schedulersvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
)

// Redeliverer retries pending parent notifications.
type Redeliverer interface {
	Redeliver(ctx context.Context) (complaint.RedeliveryReport, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  core.Logger
	timeout time.Duration
}

func New(logger core.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		timeout: 5 * time.Minute,
	}
}

// ScheduleRedelivery runs svc.Redeliver on spec, eg. "@every 10m".
func (s *Scheduler) ScheduleRedelivery(spec string, svc Redeliverer) error {
	if _, err := s.cron.AddFunc(spec, func() { s.redeliver(svc) }); err != nil {
		return errors.Wrapf(err, "scheduling redelivery on %q", spec)
	}
	return nil
}

func (s *Scheduler) redeliver(svc Redeliverer) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := svc.Redeliver(ctx)
	if err != nil {
		s.logger.Error("redelivering letters", err)
	}
	if report.Attempted > 0 {
		s.logger.Info(fmt.Sprintf(
			"redelivery: %d attempted, %d delivered, %d failed, %d dropped",
			report.Attempted, report.Delivered, report.Failed, report.Dropped,
		))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
