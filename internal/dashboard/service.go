// Package dashboard assembles the dashboard, overview and history-table views
// from the prediction history.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/rxwatch/internal/aggregate"
	"github.com/opensource-finance/rxwatch/internal/domain"
	"github.com/opensource-finance/rxwatch/internal/filter"
)

// unavailableMessage is shown instead of the raw upstream error.
const unavailableMessage = "prediction history is unavailable"

var tracer = otel.Tracer("rxwatch-dashboard")

// Service builds views. Every call fetches history once; nothing is cached.
type Service struct {
	source   domain.HistorySource
	compiler *filter.Compiler
	views    domain.ViewsConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a view service.
func NewService(source domain.HistorySource, compiler *filter.Compiler, views domain.ViewsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if views.DashboardTopN <= 0 {
		views.DashboardTopN = aggregate.DefaultTopN
	}
	if views.OverviewTopN <= 0 {
		views.OverviewTopN = 4
	}
	if views.TrendSize <= 0 {
		views.TrendSize = aggregate.DefaultTrendSize
	}
	return &Service{
		source:   source,
		compiler: compiler,
		views:    views,
		logger:   logger.With("component", "dashboard"),
		now:      time.Now,
	}
}

// Dashboard builds the dashboard view. An invalid filter or a cancelled
// context is returned as an error; a failed fetch yields an empty, degraded
// view.
func (s *Service) Dashboard(ctx context.Context, expr string) (*DashboardView, error) {
	records, status, err := s.load(ctx, "dashboard", expr)
	if err != nil {
		return nil, err
	}
	vm := aggregate.Build(records, aggregate.Options{
		TopN:      s.views.DashboardTopN,
		TrendSize: s.views.TrendSize,
	})
	return newDashboardView(vm, status), nil
}

// Overview builds the landing page view.
func (s *Service) Overview(ctx context.Context, expr string) (*OverviewView, error) {
	records, status, err := s.load(ctx, "overview", expr)
	if err != nil {
		return nil, err
	}
	vm := aggregate.Build(records, aggregate.Options{
		TopN: s.views.OverviewTopN,
		Now:  status.GeneratedAt,
	})
	return newOverviewView(vm, status), nil
}

// Rows builds the flagged-patient table alone.
func (s *Service) Rows(ctx context.Context, expr string) (*RowsView, error) {
	records, status, err := s.load(ctx, "rows", expr)
	if err != nil {
		return nil, err
	}
	rows := nonNilRows(aggregate.NormalizeRows(records))
	return &RowsView{Status: status, Total: len(rows), Rows: rows}, nil
}

// load compiles expr, fetches history and applies the filter.
func (s *Service) load(ctx context.Context, view, expr string) ([]domain.PredictionRecord, Status, error) {
	ctx, span := tracer.Start(ctx, "dashboard."+view,
		trace.WithAttributes(attribute.String("filter", expr)),
	)
	defer span.End()

	f, err := s.compiler.Compile(expr)
	if err != nil {
		return nil, Status{}, err
	}
	status := Status{Filter: f.Expression(), GeneratedAt: s.now().UTC()}

	records, err := s.source.History(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Status{}, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return nil, Status{}, err
		}
		s.logger.Error("failed to fetch prediction history", "view", view, "error", err)
		span.RecordError(err)
		status.Degraded = true
		status.Error = unavailableMessage
		return nil, status, nil
	}

	filtered := f.Apply(records)
	span.SetAttributes(
		attribute.Int("records.fetched", len(records)),
		attribute.Int("records.matched", len(filtered)),
	)
	return filtered, status, nil
}
