// Package instrumentation provides OpenTelemetry instrumentation for calagent.
//
// # Metrics
//
// HTTP host:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of live chat sessions
//   - oauth_auth_total: Counter of Google sign-in attempts by result
//
// Google API:
//   - google_api_operations_total: Counter of Google API operations by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of Google API operation durations
//
// Dialogue:
//   - classifier_requests_total: Counter of intent classifications by result
//   - classifier_duration_seconds: Histogram of classification latency
//   - dialogue_turns_total: Counter of handled turns by transition and status
//
// MCP:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// # Configuration
//
// The provider is configured from the environment, see DefaultConfig:
//
//	INSTRUMENTATION_ENABLED=true
//	METRICS_EXPORTER=prometheus        # prometheus, otlp, stdout
//	TRACING_EXPORTER=none              # otlp, stdout, none
//	OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4318
//	OTEL_TRACES_SAMPLER_ARG=0.1
//
// Every Record* method is safe to call on a zero Metrics value, so components
// accept a nil-able *Metrics and never check whether instrumentation is on.
package instrumentation
