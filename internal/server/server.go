package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/jpalmerr/roomwatch/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

// View supplies everything the server exposes. Values returned by the
// snapshot methods are encoded as JSON as is.
type View interface {
	Devices() any
	AttendanceRecords() any
	Health() any
	Summary() any

	// Rooms lists the occupancy of every known room; Occupancy reports one.
	Rooms() any
	Occupancy(room string) any

	// Snapshot renders every current resource as a change event. It is sent
	// to each SSE client before live changes.
	Snapshot() []any

	// Render turns a store change into the event sent to SSE clients.
	Render(store.Change) any

	Subscribe() <-chan store.Change
	Unsubscribe(<-chan store.Change)
}

// Server handles HTTP requests for the roomwatch JSON API.
//
// Server provides these endpoints:
//   - GET /api/devices: classified devices
//   - GET /api/attendance: classified attendance records
//   - GET /api/health: per-source health
//   - GET /api/summary: headline counts
//   - GET /api/occupancy: occupancy of every known room
//   - GET /api/occupancy/{room}: occupancy of one room
//   - GET /api/sse: Server-Sent Events change feed
//
// Every route is wrapped in a CORS handler. The server is designed for
// graceful shutdown via context cancellation.
type Server struct {
	view           View
	port           int
	allowedOrigins []string
	logger         *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - view: Source of the data served
//   - port: TCP port to listen on (0 picks a free port)
//   - allowedOrigins: CORS origins; empty allows any origin
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(view View, port int, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		view:           view,
		port:           port,
		allowedOrigins: append([]string(nil), allowedOrigins...),
		logger:         logger,
	}
}

// Handler returns the routed and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/devices", s.jsonHandler("devices", s.view.Devices))
	mux.HandleFunc("/api/attendance", s.jsonHandler("attendance", s.view.AttendanceRecords))
	mux.HandleFunc("/api/health", s.jsonHandler("health", s.view.Health))
	mux.HandleFunc("/api/summary", s.jsonHandler("summary", s.view.Summary))
	mux.HandleFunc("/api/occupancy", s.jsonHandler("occupancy", s.view.Rooms))
	mux.HandleFunc("/api/occupancy/{room}", s.requestHandler("occupancy", func(r *http.Request) any {
		return s.view.Occupancy(r.PathValue("room"))
	}))
	mux.HandleFunc("/api/sse", s.handleSSE)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
	})
	return c.Handler(mux)
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// jsonHandler serves the value returned by get as JSON.
func (s *Server) jsonHandler(name string, get func() any) http.HandlerFunc {
	return s.requestHandler(name, func(*http.Request) any { return get() })
}

// requestHandler is jsonHandler for values that depend on the request.
func (s *Server) requestHandler(name string, get func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		if err := json.NewEncoder(w).Encode(get(r)); err != nil {
			s.logger.Error("failed to encode response", "route", name, "error", err)
		}
	}
}

// handleSSE streams resource changes via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	send := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Warn("failed to encode sse event", "error", err)
			return nil
		}
		return writeAndFlush(data)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// subscribe before the snapshot so no change falls in between
	ch := s.view.Subscribe()
	defer s.view.Unsubscribe(ch)

	for _, ev := range s.view.Snapshot() {
		if err := send(ev); err != nil {
			return
		}
	}

	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return
			}
			if err := send(s.view.Render(change)); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
