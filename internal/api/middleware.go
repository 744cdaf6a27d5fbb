package api

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// instrument wraps a handler with request logging and metrics tracking.
func (a *API) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		if a.metrics != nil {
			a.metrics.RequestsInFlight.Inc()
			defer a.metrics.RequestsInFlight.Dec()
		}

		h(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)

		a.logger.Debug("handled request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration", elapsed)

		if a.metrics == nil {
			return
		}
		a.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		a.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		a.metrics.ResponseSize.WithLabelValues(route).Observe(float64(rec.bytes))
	})
}
