// Package server exposes the memory service over HTTP. The wire shapes
// and routes are a compatibility surface for existing clients.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/index"
	"github.com/jpl-au/memd/internal/memory"
	"github.com/jpl-au/memd/internal/orchestrator"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/tags"
)

// maxUploadBytes bounds a single upload request.
const maxUploadBytes = 256 << 20

// Server handles the HTTP surface.
type Server struct {
	mem  *memory.Memory
	auth Auth
	log  *zap.Logger
}

// New builds the server around an assembled memory.
func New(mem *memory.Memory, auth Auth, log *zap.Logger) *Server {
	return &Server{mem: mem, auth: auth, log: log}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/upload", s.handleUpload)
		r.Post("/ask", s.handleAsk)
		r.Post("/search", s.handleSearch)
		r.Get("/upload-status", s.handleUploadStatus)
		r.Delete("/documents", s.handleDeleteDocument)
		r.Delete("/indexes", s.handleDeleteIndex)
		r.Get("/indexes", s.handleListIndexes)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadResponse is the /upload reply.
type uploadResponse struct {
	Index      string `json:"index"`
	DocumentID string `json:"documentId"`
	Message    string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, fmt.Errorf("%w: parse multipart form: %v", errBadRequest, err))
		return
	}

	tc := tags.New()
	for _, raw := range r.MultipartForm.Value["tags"] {
		k, v, err := tags.ParsePair(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		tc.Add(k, v)
	}

	var files []orchestrator.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				s.writeError(w, fmt.Errorf("open upload %s: %w", fh.Filename, err))
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				s.writeError(w, fmt.Errorf("read upload %s: %w", fh.Filename, err))
				return
			}
			files = append(files, orchestrator.UploadFile{
				Name:     fh.Filename,
				MimeType: fh.Header.Get("Content-Type"),
				Content:  content,
			})
		}
	}

	idx, doc, err := s.mem.ImportDocument(r.Context(), memory.ImportRequest{
		Index:      r.FormValue("index"),
		DocumentID: r.FormValue("documentId"),
		Files:      files,
		Tags:       tc,
		Steps:      r.MultipartForm.Value["steps"],
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Index:      idx,
		DocumentID: doc,
		Message:    "document queued for ingestion",
	})
}

// askRequest is the /ask body. Filter is a single conjunction; Filters
// is a disjunction of conjunctions. Both may be present.
type askRequest struct {
	Question     string                `json:"question"`
	Index        string                `json:"index"`
	Filter       map[string][]string   `json:"filter"`
	Filters      []map[string][]string `json:"filters"`
	MinRelevance float64               `json:"minRelevance"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Question == "" {
		s.writeError(w, fmt.Errorf("%w: question is required", errBadRequest))
		return
	}

	ans, err := s.mem.Ask(r.Context(), req.Index, req.Question, search.Options{
		Filters:      wireFilters(req.Filter, req.Filters),
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// searchRequest is the /search body.
type searchRequest struct {
	Query        string                `json:"query"`
	Index        string                `json:"index"`
	Filter       map[string][]string   `json:"filter"`
	Filters      []map[string][]string `json:"filters"`
	Limit        int                   `json:"limit"`
	MinRelevance float64               `json:"minRelevance"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, fmt.Errorf("%w: query is required", errBadRequest))
		return
	}

	res, err := s.mem.Search(r.Context(), req.Index, req.Query, search.Options{
		Filters:      wireFilters(req.Filter, req.Filters),
		Limit:        req.Limit,
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	idx := r.URL.Query().Get("index")
	doc := r.URL.Query().Get("documentId")
	if doc == "" {
		s.writeError(w, fmt.Errorf("%w: documentId is required", errBadRequest))
		return
	}
	st, err := s.mem.Status(r.Context(), idx, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusProjection(st))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc := r.URL.Query().Get("documentId")
	if doc == "" {
		s.writeError(w, fmt.Errorf("%w: documentId is required", errBadRequest))
		return
	}
	if err := s.mem.DeleteDocument(r.Context(), r.URL.Query().Get("index"), doc); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "deletion dispatched"})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.mem.DeleteIndex(r.Context(), r.URL.Query().Get("index")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "index deleted"})
}

type indexEntry struct {
	Name string `json:"name"`
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	names, err := s.mem.ListIndexes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]indexEntry, 0, len(names))
	for _, n := range names {
		out = append(out, indexEntry{Name: n})
	}
	writeJSON(w, http.StatusOK, out)
}

// statusProjection trims internals from the state for the wire.
func statusProjection(st *pipeline.State) map[string]any {
	return map[string]any{
		"index":           st.Index,
		"document_id":     st.DocumentID,
		"execution_id":    st.ExecutionID,
		"steps":           st.Steps,
		"completed_steps": st.CompletedSteps,
		"remaining_steps": st.RemainingSteps,
		"files":           st.Files,
		"tags":            st.Tags,
		"creation":        st.Creation,
		"last_update":     st.LastUpdate,
		"completed":       st.Complete(),
		"failed":          st.Failed(),
		"failed_attempts": st.FailedAttempts,
		"terminal_error":  st.TerminalError,
	}
}

// wireFilters converts the wire filter shapes to the DNF engine form.
func wireFilters(single map[string][]string, many []map[string][]string) []*filters.Filter {
	var out []*filters.Filter
	if len(single) > 0 {
		out = append(out, mapFilter(single))
	}
	for _, m := range many {
		if len(m) > 0 {
			out = append(out, mapFilter(m))
		}
	}
	return out
}

func mapFilter(m map[string][]string) *filters.Filter {
	f := filters.New()
	for k, vs := range m {
		for _, v := range vs {
			f = f.ByTag(k, v)
		}
	}
	return f
}

var errBadRequest = errors.New("bad request")

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, orchestrator.ErrNoFiles),
		errors.Is(err, orchestrator.ErrEmptyFile),
		errors.Is(err, orchestrator.ErrUnknownStep),
		errors.Is(err, index.ErrInvalidName),
		errors.Is(err, tags.ErrInvalidTag),
		errors.Is(err, tags.ErrReservedKey):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrStateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrPipelineConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
