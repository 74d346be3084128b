/*
Package tracing provides lightweight request tracing.

Each HTTP request gets a span. The trace ID is taken from the X-Trace-ID
header when the caller sends one and generated otherwise; both IDs are
echoed back in the response headers. Finished spans are logged through
zap by a buffered collector.

# Usage

	tracer := tracing.New("storyspark", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	// Outgoing requests carry the current trace
	headers := map[string]string{}
	tracing.InjectTraceContext(ctx, headers)
*/
package tracing
