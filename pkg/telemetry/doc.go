// Package telemetry provides logging, tracing and metrics for managedmac.
//
// Logging is zerolog. File output rotates by size and keeps a fixed number
// of generations (ManagedMac.log.0 is the newest). Tracing is OpenTelemetry
// with an OTLP gRPC or stdout exporter. Metrics are Prometheus collectors on
// a private registry; a one-shot client run writes them to a node_exporter
// textfile, the watch loop can also serve them over HTTP.
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	op := telemetry.StartOperation(tel.WithContext(ctx), "printers.run")
//	err = run(op.Ctx)
//	op.End(err)
package telemetry
