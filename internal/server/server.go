// Package server exposes the job API over HTTP: submit a tabular file,
// poll job status, download the finished artifact.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/orchestrator"
	"github.com/sells-group/address-pipeline/internal/store"
)

// maxUploadBytes bounds a single submitted file.
const maxUploadBytes = 64 << 20

// Server holds the HTTP handlers' dependencies.
type Server struct {
	store     store.Store
	orch      *orchestrator.Orchestrator
	uploadDir string
	log       *zap.Logger
}

func New(st store.Store, orch *orchestrator.Orchestrator, uploadDir string) *Server {
	return &Server{
		store:     st,
		orch:      orch,
		uploadDir: uploadDir,
		log:       zap.L().Named("server"),
	}
}

// Router builds the chi router with the middleware stack and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleList)
	r.Get("/jobs/{jobID}", s.handleGet)
	r.Get("/jobs/{jobID}/download", s.handleDownload)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts a multipart upload ("file") plus processing options
// and queues a job. It answers 202 with the job ID; processing happens in
// the orchestrator's workers.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		writeError(w, http.StatusBadRequest, "only .csv and .xlsx files are supported")
		return
	}

	inputPath, err := s.saveUpload(file, ext)
	if err != nil {
		s.log.Error("saving upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store uploaded file")
		return
	}

	opts := model.JobOptions{
		AddressColumn:   r.FormValue("address_column"),
		SecondaryColumn: r.FormValue("secondary_column"),
		CompareColumn:   r.FormValue("compare_column"),
		Country:         r.FormValue("country"),
	}
	if v := r.FormValue("batch_size"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			opts.BatchSize = n
		}
	}

	jobID, err := s.orch.Submit(r.Context(), inputPath, header.Filename, r.FormValue("callback_url"), opts)
	if err != nil {
		s.log.Error("job submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(model.JobStatusQueued),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{Status: model.JobStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.log.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	if job.Status != model.JobStatusCompleted || job.OutputFile == "" {
		writeError(w, http.StatusConflict, "job has no downloadable result")
		return
	}

	name := strings.TrimSuffix(job.OriginalFilename, filepath.Ext(job.OriginalFilename))
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+name+"_standardized"+filepath.Ext(job.OutputFile)+`"`)
	http.ServeFile(w, r, job.OutputFile)
}

func (s *Server) saveUpload(file io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", eris.Wrap(err, "server: create upload dir")
	}
	path := filepath.Join(s.uploadDir, uuid.New().String()+ext)
	out, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "server: create upload file")
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", eris.Wrap(err, "server: write upload file")
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
