package panini

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a middleware recording a request counter by method and status
// and a request duration histogram in reg. Errors are counted under the
// status they are expected to produce.
//
//	reg := prometheus.NewRegistry()
//	app.Use(panini.Metrics(reg))
//	app.Get("/metrics", panini.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
func Metrics(reg prometheus.Registerer) Middleware {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "panini_requests_total",
		Help: "Requests handled, by method and status.",
	}, []string{"method", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panini_request_duration_seconds",
		Help:    "Time spent producing responses, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	reg.MustRegister(requests, duration)

	return RequestMiddleware(func(ctx context.Context, req *Request, next Handler) (*Response, error) {
		start := time_Now()
		resp, err := next.Handle(ctx, req)
		status := 0
		switch {
		case err != nil:
			status = errorStatus(err)
		case resp != nil && !resp.IsCommitted():
			status = resp.Status
		}
		method := req.Method()
		requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
		duration.WithLabelValues(method).Observe(time_Now().Sub(start).Seconds())
		return resp, err
	})
}
