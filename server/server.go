package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"brick_model_generator/generator"
	"brick_model_generator/ldraw"
	"brick_model_generator/metrics"
	"brick_model_generator/model"
	"brick_model_generator/store"
)

//go:embed web
var embeddedStatic embed.FS

// DefaultSessionTTL is how long a finished session stays pollable. Its document remains
// available under /api/models afterwards.
const DefaultSessionTTL = 30 * time.Minute

type Server struct {
	pipeline *generator.Pipeline
	records  store.Store
	sessions *sessionStore
	staticFS http.Handler
	timeout  time.Duration
	baseCtx  context.Context

	sessionTTL time.Duration
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*generator.Session
}

func newStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*generator.Session)}
}

func (s *sessionStore) set(id string, sess *generator.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

// prune drops sessions that finished more than ttl before now.
func (s *sessionStore) prune(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if at, ok := sess.FinishedAt(); ok && now.Sub(at) > ttl {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) get(id string) (*generator.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// New creates the server. records may be nil to keep results only for the session's lifetime;
// timeout bounds each generation run, 0 meaning no bound.
func New(pipeline *generator.Pipeline, records store.Store, timeout time.Duration) (*Server, error) {
	if pipeline == nil || pipeline.Agent == nil {
		return nil, errors.New("generation pipeline required")
	}
	if records == nil {
		records = store.NewMemoryStore()
	}

	sub, err := fs.Sub(embeddedStatic, "web")
	if err != nil {
		return nil, err
	}

	return &Server{
		pipeline: pipeline,
		records:  records,
		sessions: newStore(),
		staticFS: http.FileServer(http.FS(sub)),
		timeout:  timeout,
		baseCtx:  context.Background(),

		sessionTTL: DefaultSessionTTL,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generations", s.handleGenerationCreate)
	mux.HandleFunc("/api/generations/", s.handleGenerationByID)
	mux.HandleFunc("/api/models", s.handleModelList)
	mux.HandleFunc("/api/models/", s.handleModelBySHA)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", s.staticHandler())
	return logMiddleware(mux)
}

func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		s.staticFS.ServeHTTP(w, r)
	})
}

// --- Handlers ---

type generationCreateReq struct {
	Prompt   string `json:"prompt"`
	MinParts int    `json:"min_parts"`
	MaxParts int    `json:"max_parts"`
}

// handleGenerationCreate starts a session in the background and answers 202 right away.
// With ?wait=true it answers once the session has finished.
func (s *Server) handleGenerationCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generationCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := model.GenerationOptions{
		Prompt:   strings.TrimSpace(req.Prompt),
		MinParts: req.MinParts,
		MaxParts: req.MaxParts,
	}
	if err := opts.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if n := s.sessions.prune(time.Now(), s.sessionTTL); n > 0 {
		klog.V(2).Infof("[server] dropped %d expired sessions", n)
	}
	id := uuid.NewString()
	sess := generator.NewSession(id, opts, s.pipeline)
	s.sessions.set(id, sess)
	klog.Infof("[server] session %s started prompt=%q min=%d max=%d", id, opts.Prompt, opts.MinParts, opts.MaxParts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(sess)
	}()

	if r.URL.Query().Get("wait") == "true" {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
		v := sess.View()
		status := http.StatusOK
		if v.Status == model.StatusError {
			status = http.StatusBadGateway
		}
		writeJSONStatus(w, status, v)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, sess.View())
}

func (s *Server) run(sess *generator.Session) {
	ctx := s.baseCtx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := sess.Run(ctx)
	if err != nil {
		return
	}
	if err := s.records.Save(ctx, newRecord(sess, res)); err != nil {
		klog.Errorf("[server] session %s: save record: %v", sess.ID, err)
	}
}

func newRecord(sess *generator.Session, res *generator.Result) store.Record {
	rec := store.Record{
		ID:        sess.ID,
		Prompt:    sess.Options.Prompt,
		Title:     res.Set.Title,
		Filename:  res.Filename,
		Content:   res.LDR.Content,
		SHA256:    res.LDR.SHA256,
		CreatedAt: time.Now(),
	}
	if b, err := json.Marshal(res.Set); err == nil {
		rec.ModelJSON = string(b)
	}
	if v := res.Set.Validation; v != nil {
		rec.VerifiedCount = v.VerifiedCount
		rec.TotalCount = v.TotalCount
	}
	return rec
}

func (s *Server) handleGenerationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/generations/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	switch sub {
	case "":
		writeJSON(w, sess.View())
	case "ldr":
		res, ok := sess.Result()
		if !ok {
			http.Error(w, generator.ErrNotReady.Error(), http.StatusConflict)
			return
		}
		writeLDR(w, res.Filename, res.LDR.Content, res.LDR.SHA256)
	case "instructions":
		res, ok := sess.Result()
		if !ok {
			http.Error(w, generator.ErrNotReady.Error(), http.StatusConflict)
			return
		}
		page, err := RenderInstructions(res.Set)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	recs, err := s.records.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]modelItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, modelItem{
			ID:          rec.ID,
			Title:       rec.Title,
			Filename:    rec.Filename,
			SHA256:      rec.SHA256,
			PlacedParts: placedCount(rec),
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, out)
}

// handleModelBySHA serves a stored document by fingerprint: /api/models/{sha256}[/ldr].
func (s *Server) handleModelBySHA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/models/")
	sum, sub, _ := strings.Cut(rest, "/")
	rec, err := s.records.FindBySHA256(r.Context(), strings.ToLower(sum))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "model not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	switch sub {
	case "":
		writeJSON(w, modelDetail{Record: rec, PlacedParts: placedCount(rec)})
	case "ldr":
		writeLDR(w, rec.Filename, rec.Content, rec.SHA256)
	default:
		http.NotFound(w, r)
	}
}

type modelItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Filename    string    `json:"filename"`
	SHA256      string    `json:"sha256"`
	PlacedParts int       `json:"placed_parts"`
	CreatedAt   time.Time `json:"created_at"`
}

type modelDetail struct {
	store.Record
	PlacedParts int `json:"placed_parts"`
}

// placedCount reads the stored document back; -1 when it no longer parses.
func placedCount(rec store.Record) int {
	parts, err := ldraw.Parse(rec.Content)
	if err != nil {
		klog.Warningf("[server] record %s: unreadable document: %v", rec.ID, err)
		return -1
	}
	return len(parts)
}

// --- Helpers ---

func writeLDR(w http.ResponseWriter, filename, content, sum string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if sum != "" {
		w.Header().Set("ETag", `"`+sum+`"`)
	}
	_, _ = w.Write([]byte(content))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := routeLabel(r.URL.Path)
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
		klog.V(2).Infof("[http] %s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

// routeLabel collapses IDs so metric labels stay bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/generations/", "/api/models/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			_, sub, hasSub := strings.Cut(rest, "/")
			label := prefix + ":id"
			switch {
			case !hasSub || sub == "":
			case sub == "ldr" || sub == "instructions":
				label += "/" + sub
			default:
				label += "/other"
			}
			return label
		}
	}
	if strings.HasPrefix(path, "/api/") || path == "/metrics" {
		return path
	}
	return "/static"
}
