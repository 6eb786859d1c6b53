package apiserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/megayours/megaforwarder/pkg/metrics"
)

// NewMetricsServer builds the dedicated, unauthenticated Prometheus
// listener on its own port, separate from the peer and external API
// listeners.
func NewMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
