/*
Package monitoring provides Prometheus metrics for the StorySpark server.

Metrics are registered on a caller-supplied registry and cover HTTP
requests, session service calls, storage backend operations and editor
WebSocket traffic.

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router.Use(monitoring.Middleware(metrics))
	metrics.Register(router)

	store := storage.NewStore(logger, backends...).WithRecorder(metrics)
	service := sessions.NewService(store, logger, opts).WithRecorder(metrics)

# Endpoints

	GET /metrics       Prometheus exposition format
	GET /metrics/json  summary snapshot
*/
package monitoring
