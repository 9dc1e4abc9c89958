/*
Package observability wires the engine's lifecycle hooks to Prometheus
collectors and sets up OpenTelemetry tracing for the per-message spans.
*/
package observability
