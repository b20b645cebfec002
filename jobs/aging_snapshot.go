package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AgingReporter computes the receivable aging.
type AgingReporter interface {
	AgingReport(ctx context.Context, asOf time.Time, customerID int64) (ar.AgingReport, error)
}

// AgingSnapshotStore persists a computed report.
type AgingSnapshotStore interface {
	SaveAgingSnapshot(ctx context.Context, report ar.AgingReport) error
}

// AgingSnapshotJob stores a daily aging snapshot and publishes bucket totals.
type AgingSnapshotJob struct {
	Reporter AgingReporter
	Store    AgingSnapshotStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewAgingSnapshotJob initialises the snapshot handler.
func NewAgingSnapshotJob(reporter AgingReporter, store AgingSnapshotStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *AgingSnapshotJob {
	return &AgingSnapshotJob{
		Reporter: reporter,
		Store:    store,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the snapshot.
func (j *AgingSnapshotJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reporter == nil || j.Store == nil {
		return errors.New("aging snapshot: handler not configured")
	}
	var payload AgingSnapshotPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := shared.DateOnly(j.now())
	if payload.AsOf != "" {
		parsed, err := shared.ParseDate(payload.AsOf)
		if err != nil {
			return fmt.Errorf("aging snapshot: as_of %q: %v: %w", payload.AsOf, err, asynq.SkipRetry)
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskAgingSnapshot)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.logger().With(slog.String("as_of", asOf.Format(shared.DateLayout)))

	report, err := j.Reporter.AgingReport(ctx, asOf, 0)
	if err != nil {
		logger.Error("aging report failed", slog.Any("error", err))
		return err
	}
	if err := j.Store.SaveAgingSnapshot(ctx, report); err != nil {
		logger.Error("save aging snapshot failed", slog.Any("error", err))
		return err
	}

	totals := report.Totals
	for bucket, amount := range map[string]float64{
		ar.Bucket0To30:  totals.Current.InexactFloat64(),
		ar.Bucket31To60: totals.Days31To60.InexactFloat64(),
		ar.Bucket61To90: totals.Days61To90.InexactFloat64(),
		ar.Bucket91Plus: totals.Days91Plus.InexactFloat64(),
	} {
		j.metrics().SetAgingOutstanding(bucket, amount)
	}
	logger.Info("aging snapshot stored",
		slog.Int("customers", len(report.Rows)),
		slog.String("current", totals.Current.StringFixed(2)),
		slog.String("31_60", totals.Days31To60.StringFixed(2)),
		slog.String("61_90", totals.Days61To90.StringFixed(2)),
		slog.String("91_plus", totals.Days91Plus.StringFixed(2)),
		slog.String("total", totals.Total.StringFixed(2)),
	)
	return nil
}

func (j *AgingSnapshotJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAgingSnapshot))
	}
	return slog.Default().With(slog.String("job", TaskAgingSnapshot))
}

func (j *AgingSnapshotJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AgingSnapshotJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
