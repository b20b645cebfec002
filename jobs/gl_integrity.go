package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityScanner exposes the read-only ledger consistency queries.
type IntegrityScanner interface {
	UnbalancedJournals(ctx context.Context) ([]accounting.IntegrityViolation, error)
	AccountBalanceDrift(ctx context.Context) ([]accounting.IntegrityViolation, error)
}

// GLIntegrityJob checks that every journal balances and that stored account
// balances equal the sum of their posted lines.
type GLIntegrityJob struct {
	Scanner IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs both scans concurrently and reports every violation.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	violations, err := j.Scan(ctx)
	if err != nil {
		j.logger().Error("integrity scan failed", slog.Any("error", err))
		return err
	}

	perKind := map[string]int{}
	for _, v := range violations {
		perKind[v.Kind]++
		j.logger().Error("ledger integrity violation",
			slog.String("kind", v.Kind),
			slog.String("ref", v.Ref),
			slog.String("detail", v.Detail),
		)
	}
	for kind, n := range perKind {
		j.metrics().AddIntegrityViolations(kind, n)
	}
	j.logger().Info("completed integrity scan",
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Scan returns unbalanced journals followed by drifting accounts.
func (j *GLIntegrityJob) Scan(ctx context.Context) ([]accounting.IntegrityViolation, error) {
	var unbalanced, drift []accounting.IntegrityViolation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		unbalanced, err = j.Scanner.UnbalancedJournals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		drift, err = j.Scanner.AccountBalanceDrift(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(unbalanced, drift...), nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
