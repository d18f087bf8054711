package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
	"zombiezen.com/go/log"
)

type MetricsRegistry struct {
	scope    tally.Scope
	closer   io.Closer
	reporter promreporter.Reporter
	httpPort int
}

// NewMetricRegistry reports through prometheus under prefix. The endpoint is
// served by Serve.
func NewMetricRegistry(prefix string, httpPort int) *MetricsRegistry {
	r := promreporter.NewReporter(promreporter.Options{})

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         prefix,
		Tags:           map[string]string{},
		CachedReporter: r,
		Separator:      promreporter.DefaultSeparator,
	}, 1*time.Second)

	return &MetricsRegistry{
		scope:    scope,
		closer:   closer,
		reporter: r,
		httpPort: httpPort,
	}
}

// NewMetricRegistryWithScope records into an existing scope and serves
// nothing.
func NewMetricRegistryWithScope(scope tally.Scope) *MetricsRegistry {
	return &MetricsRegistry{scope: scope}
}

func (r *MetricsRegistry) TimeQuery(procedure string, f func() error) error {
	tags := map[string]string{"procedure": procedure}
	r.scope.Tagged(tags).Counter("query_count").Inc(1)
	tsw := r.scope.Tagged(tags).Timer("query_timer").Start()
	err := f()
	tsw.Stop()
	if err != nil {
		r.scope.Tagged(tags).Counter("query_errors").Inc(1)
	}
	return err
}

func (r *MetricsRegistry) CountConcurrencyConflict(operation string) {
	r.scope.Tagged(map[string]string{"operation": operation}).Counter("concurrency_conflict_count").Inc(1)
}

func (r *MetricsRegistry) UpdateActiveMembers(n int) {
	r.scope.Gauge("active_members").Update(float64(n))
}

func (r *MetricsRegistry) TimeTableSync(f func() error) error {
	r.scope.Counter("table_sync_count").Inc(1)
	tsw := r.scope.Timer("table_sync_timer").Start()
	err := f()
	tsw.Stop()
	return err
}

func (r *MetricsRegistry) CountReminderInvocation(name string) {
	r.scope.Tagged(map[string]string{"id": name}).Counter("reminder_invocation_count").Inc(1)
	r.scope.Counter("reminder_invocation_total").Inc(1)
}

func (r *MetricsRegistry) TimeReminderRegistryTick(f func() error) error {
	r.scope.Counter("reminder_registry_tick").Inc(1)
	tsw := r.scope.Timer("reminder_registry_tick_time").Start()
	err := f()
	tsw.Stop()
	return err
}

// Serve exposes /metrics until ctx is done.
func (r *MetricsRegistry) Serve(ctx context.Context) error {
	if r.reporter == nil {
		return fmt.Errorf("unable to serve metrics: registry has no prometheus reporter")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.reporter.HTTPHandler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", r.httpPort), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof(ctx, "Serving 0.0.0.0:%d/metrics", r.httpPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unable to serve metrics: %v", err)
	}
	return nil
}

func (r *MetricsRegistry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
