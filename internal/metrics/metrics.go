package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesReceived counts incoming queries per transport.
	QueriesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsforged_queries_received_total", Help: "Incoming DNS queries"},
		[]string{"transport"},
	)

	// ResponsesCooked counts fabricated answers per query type.
	ResponsesCooked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsforged_responses_cooked_total", Help: "Fabricated DNS responses"},
		[]string{"qtype"},
	)

	// QueriesProxied counts queries forwarded upstream.
	QueriesProxied = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsforged_queries_proxied_total", Help: "Queries forwarded to an upstream resolver"},
	)

	// InvalidQueries counts unparseable or non-query packets.
	InvalidQueries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsforged_invalid_queries_total", Help: "Dropped malformed or non-query packets"},
	)

	// UpstreamFailures counts proxied queries with no upstream reply.
	UpstreamFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsforged_upstream_failures_total", Help: "Upstream exchanges that returned no reply"},
	)

	// RateLimited counts queries dropped by the per-client limiter.
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsforged_rate_limited_total", Help: "Queries dropped by per-client rate limiting"},
	)

	// EncodeFailures counts cooked answers whose spec failed to encode.
	EncodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dnsforged_encode_failures_total", Help: "Cooked answers dropped due to malformed specs"},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesReceived,
		ResponsesCooked,
		QueriesProxied,
		InvalidQueries,
		UpstreamFailures,
		RateLimited,
		EncodeFailures,
	)
}

// Serve exposes the registry on addr. The listener is bound synchronously
// so bind errors surface at startup; the returned server is shut down by
// the caller.
func Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	return srv, nil
}
