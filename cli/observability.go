package cli

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/spf13/cobra"

	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/observability"
)

// wireObservability subscribes tracing/metrics handlers to bus when the
// --trace/--metrics flags request them, forwarding every published event to
// each handler on its own goroutine. The returned cleanup drains the
// subscription and flushes the tracer/meter providers.
func wireObservability(cmd *cobra.Command, bus eventbus.Bus) (func(), error) {
	trace, _ := cmd.Flags().GetBool("trace")
	metricsOn, _ := cmd.Flags().GetBool("metrics")
	if !trace && !metricsOn {
		return func() {}, nil
	}

	sub := bus.SubscribeAll()

	var cleanups []func()
	var tracingHandler *observability.TracingHandler
	var metricsHandler *observability.MetricsHandler

	if trace {
		tp := sdktrace.NewTracerProvider()
		tracingHandler = observability.NewTracingHandler(tp.Tracer("dipeo"))
		cleanups = append(cleanups, func() { _ = tp.Shutdown(cmd.Context()) })
	}
	if metricsOn {
		mp := sdkmetric.NewMeterProvider()
		h, err := observability.NewMetricsHandler(mp.Meter("dipeo"))
		if err != nil {
			sub.Close()
			return nil, exitError(exitRuntime, "starting metrics: %v", err)
		}
		metricsHandler = h
		cleanups = append(cleanups, func() { _ = mp.Shutdown(cmd.Context()) })
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.Events() {
			if tracingHandler != nil {
				tracingHandler.Handle(e)
			}
			if metricsHandler != nil {
				metricsHandler.Handle(e)
			}
		}
	}()

	return func() {
		sub.Close()
		<-done
		for _, c := range cleanups {
			c()
		}
	}, nil
}
