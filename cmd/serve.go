package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/crm"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operational HTTP API",
	Long:  "Read-only API for the analytics dashboard: integrity snapshots and the execution ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newAPIRouter(st, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// On SIGINT/SIGTERM, drain in-flight requests for up to 5s.
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			<-ctx.Done()
			zap.L().Info("shutting down api server")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(drainCtx)
		}()

		zap.L().Info("starting api server", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "api server listen")
		}
		<-drained
		return nil
	},
}

// newAPIRouter builds the read-only operational API the dashboard consumes.
func newAPIRouter(st crm.Store, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/integrity/latest", func(w http.ResponseWriter, req *http.Request) {
			snap, err := st.LatestIntegritySnapshot(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if snap == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no integrity snapshots"})
				return
			}
			writeJSON(w, http.StatusOK, toSnapshotResponse(*snap))
		})

		r.Get("/integrity/history", func(w http.ResponseWriter, req *http.Request) {
			limit := 30
			if v := req.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
					return
				}
				limit = n
			}

			snaps, err := st.ListIntegritySnapshots(req.Context(), crm.SnapshotFilter{Limit: limit})
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]snapshotResponse, len(snaps))
			for i, s := range snaps {
				out[i] = toSnapshotResponse(s)
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/ledger", func(w http.ResponseWriter, req *http.Request) {
			entries, err := st.LedgerEntries(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if entries == nil {
				entries = []crm.LedgerEntry{}
			}
			writeJSON(w, http.StatusOK, entries)
		})
	})

	return r
}

// snapshotResponse exposes the stored alerts as inline JSON instead of the
// raw bytes the store carries.
type snapshotResponse struct {
	crm.IntegritySnapshot
	Alerts json.RawMessage `json:"alerts,omitempty"`
}

func toSnapshotResponse(snap crm.IntegritySnapshot) snapshotResponse {
	return snapshotResponse{
		IntegritySnapshot: snap,
		Alerts:            json.RawMessage(snap.Alerts),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("api request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
