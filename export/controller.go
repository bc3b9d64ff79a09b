package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/internal/observability"
	"github.com/rasterline/imagery-retriever/model"
)

// DefaultPollInterval is the wait between status rounds.
const DefaultPollInterval = 60 * time.Second

// ExportClient is the part of the catalog surface the controller needs.
type ExportClient interface {
	SubmitExport(ctx context.Context, spec catalog.ExportSpec) (string, error)
	ExportStatus(ctx context.Context, handle string) (model.ExportState, string, error)
}

// Controller submits export jobs and polls them to a terminal state.
// Jobs that end FAILED are reported, never resubmitted.
type Controller struct {
	// PollInterval is the wait between status rounds.
	PollInterval time.Duration
	// Clock drives the waits; swap for a ManualClock in tests.
	Clock   Clock
	Metrics *observability.ExportCollector

	client ExportClient
	store  *JobStore
	log    logging.Logger
}

// NewController returns a controller with the default poll interval and
// the system clock.
func NewController(client ExportClient, store *JobStore, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	return &Controller{
		PollInterval: DefaultPollInterval,
		Clock:        SystemClock{},
		client:       client,
		store:        store,
		log:          log,
	}
}

// Submit sends every spec to the catalog and tracks the returned
// handles. Submission stops at the first error; jobs submitted before
// the error stay tracked and can still be polled.
func (c *Controller) Submit(ctx context.Context, specs []catalog.ExportSpec) error {
	for _, spec := range specs {
		handle, err := c.client.SubmitExport(ctx, spec)
		if err != nil {
			return fmt.Errorf("submit export %q: %w", spec.Name, err)
		}
		now := c.Clock.Now()
		job := model.ExportJob{
			Handle:      handle,
			Name:        spec.Name,
			Image:       string(spec.Image),
			Folder:      spec.Folder,
			State:       model.ExportCreated,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		if rect, ok := spec.Region.Rectangle(); ok {
			job.Region = rect
		}
		if err := c.store.Add(job); err != nil {
			return fmt.Errorf("track export %q: %w", spec.Name, err)
		}
		c.Metrics.IncSubmissions()
		c.log.Info(ctx, "export task started",
			logging.String("handle", handle),
			logging.String("name", spec.Name))
	}
	c.Metrics.SetJobCounts(c.store.Counts())
	return nil
}

// PollUntilDone polls job status until every tracked job is terminal,
// waiting PollInterval between rounds. A failed status query leaves the
// affected job on its previous state until the next round. The final
// snapshot is returned in submission order; on cancellation the
// snapshot reflects the states observed so far.
func (c *Controller) PollUntilDone(ctx context.Context) ([]model.ExportJob, error) {
	for {
		c.pollRound(ctx)

		pending := c.store.Pending()
		if len(pending) == 0 {
			return c.store.List(), nil
		}
		c.log.Info(ctx, "export tasks still running",
			logging.Int("pending", len(pending)))

		select {
		case <-ctx.Done():
			return c.store.List(), ctx.Err()
		case <-c.Clock.After(c.interval()):
		}
	}
}

func (c *Controller) pollRound(ctx context.Context) {
	start := time.Now()
	for _, job := range c.store.Pending() {
		state, message, err := c.client.ExportStatus(ctx, job.Handle)
		if err != nil {
			c.Metrics.IncStatusErrors()
			c.log.Warn(ctx, "export status query failed",
				logging.String("handle", job.Handle),
				logging.Any("error", err))
			continue
		}
		if !state.Known() {
			c.log.Warn(ctx, "unrecognized export state",
				logging.String("handle", job.Handle),
				logging.String("state", string(state)))
		}
		if state == job.State && message == job.Message {
			continue
		}
		if err := c.store.SetState(job.Handle, state, message, c.Clock.Now()); err != nil {
			c.log.Warn(ctx, "record export state",
				logging.String("handle", job.Handle),
				logging.Any("error", err))
		}
	}
	c.Metrics.SetJobCounts(c.store.Counts())
	c.Metrics.ObservePollRound(time.Since(start))
}

func (c *Controller) interval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}
