package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"

	readHeaderTimeout = 5 * time.Second
)

// ReadyCheck returns nil when a subsystem is ready.
type ReadyCheck func(ctx context.Context) error

// HealthHandler serves /healthz. It always answers 200.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeHealth(rw, http.StatusOK, healthStatusOK)
	})
}

// ReadyHandler serves /readyz: 503 when any check fails, 200 otherwise.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			if check(hr.Context()) != nil {
				writeHealth(rw, http.StatusServiceUnavailable, healthStatusUnavailable)

				return
			}
		}

		writeHealth(rw, http.StatusOK, healthStatusOK)
	})
}

func writeHealth(rw http.ResponseWriter, code int, status string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	_ = json.NewEncoder(rw).Encode(map[string]string{"status": status})
}

// DiagnosticsServer exposes /healthz, /readyz and, when a metrics handler
// is given, /metrics.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
}

// NewDiagnosticsServer listens on addr and serves in the background.
func NewDiagnosticsServer(
	addr string, tracer trace.Tracer, metrics http.Handler, logger *slog.Logger, checks ...ReadyCheck,
) (*DiagnosticsServer, error) {
	routes := map[string]http.Handler{
		"/healthz": HealthHandler(),
		"/readyz":  ReadyHandler(checks...),
	}

	if metrics != nil {
		routes["/metrics"] = metrics
	}

	mux := http.NewServeMux()

	for route, handler := range routes {
		mux.Handle(route, TraceRoute(tracer, route, handler))
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener}, nil
}

// Addr returns the bound address.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close shuts the server down.
func (d *DiagnosticsServer) Close(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
