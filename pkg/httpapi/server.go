// Package httpapi implements Cube's HTTP surface (spec.md §6): a single
// POST / endpoint carrying one plain-text command per request, scoped to a
// client by the X-Client-Name header. It replaces the teacher's
// pkg/server, keeping the same chi.Mux + middleware shape but routing to
// the transaction manager instead of a cache.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kalbasit/cube/pkg/metrics"
	"github.com/kalbasit/cube/pkg/parser"
	"github.com/kalbasit/cube/pkg/txn"
)

const (
	headerClientName = "X-Client-Name"

	bodyHello    = "Hello"
	bodyNotFound = "Not found"

	maxBodyBytes = 64 * 1024
)

// Server is Cube's HTTP handler.
type Server struct {
	txn     *txn.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger
	router  *chi.Mux
}

// New builds a Server dispatching commands to mgr.
func New(mgr *txn.Manager, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{txn: mgr, metrics: m, logger: logger}
	s.router = createRouter(s)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func createRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.getIndex)
	r.Post("/", s.postCommand)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(bodyNotFound))
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(start)).
					Str("from", r.RemoteAddr).
					Str("reqID", reqID).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) getIndex(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(bodyHello))
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	clientName := r.Header.Get(headerClientName)
	if clientName == "" {
		writeErr(w, "X-Client-Name header required")

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, "failed to read request body")

		return
	}

	cmd, err := parser.Parse(string(body))
	if err != nil {
		writeErr(w, parseErrorReason(err))

		return
	}

	s.dispatch(r.Context(), w, clientName, cmd)
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, clientName string, cmd parser.Command) {
	switch cmd.Kind {
	case parser.KindGet:
		val, err := s.txn.Get(ctx, clientName, cmd.Key)
		if err != nil {
			writeErr(w, err.Error())

			return
		}

		writeOK(w, val)

	case parser.KindSet:
		oldVal, newVal, err := s.txn.Set(ctx, clientName, cmd.Key, cmd.Value)
		if err != nil {
			writeErr(w, err.Error())

			return
		}

		writeOK(w, fmt.Sprintf("%s %s", oldVal, newVal))

	case parser.KindBegin:
		if err := s.txn.Begin(ctx, clientName); err != nil {
			writeErr(w, txnErrorReason(err))

			return
		}

		writeOK(w, "OK")

	case parser.KindCommit:
		if err := s.txn.Commit(ctx, clientName); err != nil {
			writeErr(w, txnErrorReason(err))

			return
		}

		writeOK(w, "OK")

	case parser.KindRollback:
		if err := s.txn.Rollback(ctx, clientName); err != nil {
			writeErr(w, txnErrorReason(err))

			return
		}

		writeOK(w, "OK")

	default:
		writeErr(w, "unsupported command")
	}
}

func writeOK(w http.ResponseWriter, body string) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeErr(w http.ResponseWriter, reason string) {
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte("ERR " + reason))
}

func txnErrorReason(err error) string {
	var conflict *txn.AtomicityFailureError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("Atomicity failure (%s)", joinKeys(conflict.Keys))
	}

	switch {
	case errors.Is(err, txn.ErrAlreadyInTransaction):
		return "Already in transaction"
	case errors.Is(err, txn.ErrNoTransactionInProgress):
		return "No transaction in progress"
	default:
		return err.Error()
	}
}

func joinKeys(keys []string) string {
	out := ""

	for i, k := range keys {
		if i > 0 {
			out += ", "
		}

		out += k
	}

	return out
}

func parseErrorReason(err error) string {
	switch {
	case errors.Is(err, parser.ErrUnknownCommand):
		return "Unknown command"
	case errors.Is(err, parser.ErrUnclosedString):
		return "Unclosed string"
	case errors.Is(err, parser.ErrInvalidKey):
		return "Invalid key"
	case errors.Is(err, parser.ErrInvalidValue):
		return "Invalid value"
	case errors.Is(err, parser.ErrExtraInput):
		return "Extra input"
	case errors.Is(err, parser.ErrCannotSetNil):
		return "Cannot SET a nil value"
	case errors.Is(err, parser.ErrSyntaxError):
		return "Syntax error"
	default:
		return err.Error()
	}
}
