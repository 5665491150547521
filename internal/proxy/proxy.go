package proxy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy is a built, connected proxy instance ready to Run. It owns the
// backend connector for its whole lifetime; the ServerSpec and
// ProxyService are only created once Run introspects the backend, so a
// Proxy that's Built but never Run holds no stale spec.
type Proxy struct {
	cfg       Config
	connector BackendConnector
	logger    *slog.Logger

	service    *ProxyService
	httpServer *http.Server
	promReg    *prometheus.Registry
}

// Run introspects the backend once, builds the ProxyService that serves
// the cached spec, and starts whichever frontend cfg.Frontend selects
// (§4.4 step 3). It blocks until the frontend stops: stdin EOF for the
// stdio frontend, or a listener error for the HTTP frontend.
func (p *Proxy) Run(ctx context.Context) error {
	spec, err := introspect(ctx, p.connector)
	if err != nil {
		return err
	}

	var prom *promMetrics
	if p.cfg.MetricsEnabled {
		p.promReg = prometheus.NewRegistry()
		prom = registerPromMetrics(p.promReg)
	}
	p.service = newProxyService(p.connector, spec, p.logger, prom)

	switch p.cfg.Frontend {
	case FrontendHTTP:
		return p.serveHTTP()
	case FrontendStdio:
		return p.serveStdio(ctx)
	default:
		return errUnknownFrontend(p.cfg.Frontend)
	}
}

// Metrics returns a snapshot of the proxy's forwarding counters. Safe to
// call concurrently with Run; returns a zero value before Run has
// introspected the backend.
func (p *Proxy) Metrics() ProxyMetrics {
	if p.service == nil {
		return ProxyMetrics{}
	}
	return p.service.Metrics()
}

// Close releases the backend connection and, if the HTTP frontend was
// started, shuts down its listener.
func (p *Proxy) Close(ctx context.Context) error {
	if p.httpServer != nil {
		_ = p.httpServer.Shutdown(ctx)
	}
	return p.connector.Close()
}

func errUnknownFrontend(kind FrontendKind) error {
	return &unknownFrontendError{kind: kind}
}

type unknownFrontendError struct{ kind FrontendKind }

func (e *unknownFrontendError) Error() string {
	return "proxy: unknown frontend kind: " + string(e.kind)
}
