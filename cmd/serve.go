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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/importer"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
	"github.com/sells-group/lab-inventory/internal/store"
	"github.com/sells-group/lab-inventory/internal/validate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initImportEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	env *importEnv
}

// newRouter builds the HTTP API:
//
//	GET  /health
//	GET  /v1/template
//	POST /v1/imports           multipart "file"; query mode, dry_run, enrich, department_id, persist_images
//	GET  /v1/image-jobs        query status
//	POST /v1/image-jobs/retry
func newRouter(env *importEnv, allowedOrigins []string) http.Handler {
	s := &apiServer{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/template", s.template)
		r.Post("/imports", s.createImport)
		r.Get("/image-jobs", s.listImageJobs)
		r.Post("/image-jobs/retry", s.retryImageJobs)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) template(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="inventory_template.xlsx"`)
	if err := schema.WriteTemplate(w); err != nil {
		zap.L().Error("write template", zap.Error(err))
	}
}

func (s *apiServer) createImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, fetcher.MaxSheetBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	opts, err := s.runOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sheet, err := fetcher.ParseSheet(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := importer.Run(r.Context(), sheet, s.env.Deps(opts.Enrich), opts)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, validate.ErrNameUnmapped):
		writeJSON(w, http.StatusUnprocessableEntity, report)
	default:
		zap.L().Error("import failed", zap.String("file", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// runOptions applies request overrides to the configured session options.
func (s *apiServer) runOptions(r *http.Request) (importer.RunOptions, error) {
	q := r.URL.Query()
	opts := importer.RunOptions{Options: s.env.Options, Enrich: true}

	if v := q.Get("mode"); v != "" {
		mode, err := model.ParseImportMode(v)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	if v := q.Get("department_id"); v != "" {
		opts.DepartmentID = v
	}
	for name, dst := range map[string]*bool{
		"dry_run":        &opts.DryRun,
		"enrich":         &opts.Enrich,
		"persist_images": &opts.PersistImages,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, eris.Errorf("query %s: %q is not a boolean", name, v)
		}
		*dst = b
	}
	if opts.DepartmentID == "" {
		return opts, eris.New("department_id is required")
	}
	return opts, nil
}

func (s *apiServer) listImageJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.ImageJobFilter{
		Status: model.ImageJobStatus(r.URL.Query().Get("status")),
		ItemID: r.URL.Query().Get("item_id"),
	}
	jobs, err := s.env.Store.ListImageJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []model.ImageJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *apiServer) retryImageJobs(w http.ResponseWriter, r *http.Request) {
	sum, err := s.env.Images.RunPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
