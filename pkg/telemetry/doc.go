// Package telemetry provides observability instrumentation for voxdesk.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into one bundle that
// the data-access layer and the command line share.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Component loggers with zerolog
//  2. Distributed Tracing - One span per store operation
//  3. Metrics Collection - Retry, pool and replication counters for Prometheus
//  4. Event Publishing - Store lifecycle notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	http.Handle(tel.Metrics.Path(), tel.Metrics.Handler())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("store")
//	logger.WithTarget("external").WithError(err).Error("Error connecting to external database")
//
// Criticalf logs at error level with severity=critical and never exits the
// process. It marks failures the store survived by falling back.
//
// Log levels: trace, debug, info, warn, error
//
// # Distributed Tracing
//
//	ctx, span := tel.Tracer.StartStoreSpan(ctx, "execute", telemetry.AttrClass.String("general/write"))
//	defer func() { telemetry.EndSpan(span, err) }()
//
// Supported exporters: otlp, stdout, none
//
// # Metrics
//
// Every Metrics method is a no-op on a nil or disabled instance, so code
// can record unconditionally:
//
//	tel.Metrics.RecordAttempt("execute")
//	tel.Metrics.RecordOperation("execute", "external", "success", elapsed)
//	tel.Metrics.SetActiveStore("local")
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeStoreFallback))
package telemetry
