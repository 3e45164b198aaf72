package otel

import (
	"context"
	"sync"
	"time"

	batchid "github.com/hanpama/computed/internal/batchid"
	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

const instrumentation = "github.com/hanpama/computed"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(tp)
	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span producers for engine events on the global bus,
// using tracers from tp. The returned function removes the subscriptions.
func Register(tp trace.TracerProvider) (unregister func()) {
	s := &subscriber{tracer: tp.Tracer(instrumentation)}
	return s.register()
}

type subscriber struct {
	tracer   trace.Tracer
	runSpans sync.Map // batch id -> trace.Span
}

// parent returns ctx carrying the run span of its batch, if one is open.
func (s *subscriber) parent(ctx context.Context) context.Context {
	id, ok := batchid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := s.runSpans.Load(id); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

// finished records a span for work that has already completed.
func (s *subscriber) finished(ctx context.Context, name string, d time.Duration, err error, attrs ...attribute.KeyValue) {
	end := time.Now()
	_, span := s.tracer.Start(s.parent(ctx), name,
		trace.WithTimestamp(end.Add(-d)),
		trace.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.SchedulerStart) {
			id, _ := batchid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "computed.run")
			span.SetAttributes(
				attribute.Int64("computed.batch", id),
				attribute.Int("computed.members", e.Members),
				attribute.Int("computed.max_passes", e.MaxPasses),
			)
			s.runSpans.Store(id, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.SchedulerFinish) {
			id, _ := batchid.FromContext(ctx)
			v, ok := s.runSpans.LoadAndDelete(id)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.Int("computed.passes", e.Passes),
				attribute.Int("computed.changes", e.Changes),
			)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.PassFinish) {
			s.finished(ctx, "computed.pass", e.Duration, nil,
				attribute.Int("computed.pass", e.Pass),
				attribute.Int("computed.changes", e.Changes),
			)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.ComputedUpdated) {
			s.finished(ctx, "computed.update", e.Duration, nil,
				attribute.String("computed.member", e.Member),
				attribute.Int("computed.pass", e.Pass),
				attribute.Int("computed.changes", e.Changes),
			)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.NavigationLoad) {
			s.finished(ctx, "computed.load", e.Duration, e.Err,
				attribute.String("computed.navigation", e.Navigation),
				attribute.String("computed.load.mode", e.Mode),
				attribute.Int("computed.load.entities", e.Entities),
			)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.ConsistencyChecked) {
			s.finished(ctx, "computed.consistency", 0, nil,
				attribute.String("computed.member", e.Member),
				attribute.Int("computed.consistent", e.Consistent),
				attribute.Int("computed.inconsistent", e.Inconsistent),
				attribute.Float64("computed.consistency_ratio", e.Ratio),
			)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
