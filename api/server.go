package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ci-medic/analysis"
	"ci-medic/app"
	"ci-medic/dispatch"
	"ci-medic/github"
	"ci-medic/logger"
	"ci-medic/store"
)

// maxBodyBytes bounds request bodies; job logs are the largest payload.
const maxBodyBytes = 8 << 20

// CLIAction is a named command template the front end offers as a button.
type CLIAction struct {
	Label    string `json:"label"`
	Template string `json:"template"`
}

// Settings is the non-secret configuration exposed to the front end.
type Settings struct {
	Primary          CLIAction `json:"primary"`
	Secondary        CLIAction `json:"secondary"`
	TerminalApp      string    `json:"terminal_app"`
	HasAnalysisKey   bool      `json:"has_analysis_key"`
	HasGitHubToken   bool      `json:"has_github_token"`
	AnalysisModel    string    `json:"analysis_model"`
	ReuseWindowHours float64   `json:"reuse_window_hours"`
}

// Server exposes the host commands as a local JSON API.
type Server struct {
	app       *app.App
	settings  Settings
	log       logger.Logger
	authToken string
}

// NewServer creates a new API server.
func NewServer(a *app.App, settings Settings, log logger.Logger, authToken string) *Server {
	return &Server{
		app:       a,
		settings:  settings,
		log:       log,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/settings", s.handleSettings)
	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/open-cli", s.handleOpenCLI)
	mux.HandleFunc("/api/v1/prs/", s.handlePR)
	mux.HandleFunc("/api/v1/tracked", s.handleTracked)
	mux.HandleFunc("/api/v1/analyses", s.handleAnalysesList)
	mux.HandleFunc("/api/v1/analyses/", s.handleAnalysisDetail)
	mux.HandleFunc("/api/v1/debug", s.handleDebug)

	if s.authToken == "" {
		return mux
	}
	return s.authMiddleware(mux)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health check is always public
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.settings)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req app.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.JobName) == "" {
		writeError(w, http.StatusBadRequest, "job_name required")
		return
	}

	// No timeout of our own: the client's context bounds the analysis call.
	res, err := s.app.AnalyzeFailure(r.Context(), req)
	if err != nil {
		s.writeAppError(w, "api.analyze_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type openCLIRequest struct {
	// Action selects a configured template ("primary" or "secondary")
	// when CommandTemplate is empty.
	Action          string `json:"action"`
	CommandTemplate string `json:"command_template"`
	Context         string `json:"context"`
	Repo            string `json:"repo"`
	Number          int64  `json:"number"`
	PRURL           string `json:"pr_url"`
}

func (s *Server) handleOpenCLI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req openCLIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tmpl := req.CommandTemplate
	if tmpl == "" {
		switch req.Action {
		case "", "primary":
			tmpl = s.settings.Primary.Template
		case "secondary":
			tmpl = s.settings.Secondary.Template
		default:
			writeError(w, http.StatusBadRequest, "unknown action "+strconv.Quote(req.Action))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := s.app.OpenCLI(ctx, dispatch.Request{
		Template: tmpl,
		Context:  req.Context,
		Repo:     req.Repo,
		Number:   req.Number,
		PRURL:    req.PRURL,
	})
	if err != nil {
		s.writeAppError(w, "api.open_cli_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "launched"})
}

// handlePR serves GET /api/v1/prs/{owner}/{repo}/{number}.
func (s *Server) handlePR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/prs/"), "/"), "/")
	if len(parts) != 3 {
		writeError(w, http.StatusBadRequest, "path must be /api/v1/prs/{owner}/{repo}/{number}")
		return
	}
	number, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	details, err := s.app.FetchPRInfo(ctx, parts[0]+"/"+parts[1], number)
	if err != nil {
		s.writeAppError(w, "api.fetch_pr_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type trackedRequest struct {
	Repo   string `json:"repo"`
	Number int64  `json:"number"`
}

func (s *Server) handleTracked(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		// ?details=false skips GitHub and lists the stored entries only.
		if r.URL.Query().Get("details") == "false" {
			tracked, err := s.app.ListTrackedPRs(ctx)
			if err != nil {
				s.writeAppError(w, "api.list_tracked_failed", err)
				return
			}
			if tracked == nil {
				tracked = []*store.TrackedPR{}
			}
			writeJSON(w, http.StatusOK, tracked)
			return
		}
		details, err := s.app.FetchTrackedPRs(ctx)
		if err != nil {
			s.writeAppError(w, "api.fetch_tracked_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, details)

	case http.MethodPost:
		var req trackedRequest
		if !decodeBody(w, r, &req) {
			return
		}
		pr, err := s.app.AddTrackedPR(ctx, req.Repo, req.Number)
		if err != nil {
			s.writeAppError(w, "api.add_tracked_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, pr)

	case http.MethodDelete:
		req := trackedRequest{Repo: r.URL.Query().Get("repo")}
		if n := r.URL.Query().Get("number"); n != "" {
			v, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid PR number")
				return
			}
			req.Number = v
		} else if !decodeBody(w, r, &req) {
			return
		}
		if err := s.app.RemoveTrackedPR(ctx, req.Repo, req.Number); err != nil {
			s.writeAppError(w, "api.remove_tracked_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAnalysesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filter := store.AnalysisFilter{
		Repo:   q.Get("repo"),
		Number: int64(parseIntParam(q.Get("number"), 0)),
		Status: store.AnalysisStatus(q.Get("status")),
		Limit:  parseIntParam(q.Get("limit"), 50),
		Offset: parseIntParam(q.Get("offset"), 0),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	recs, err := s.app.Analyses(ctx, filter)
	if err != nil {
		s.log.Error("api.list_analyses_failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if recs == nil {
		recs = []*store.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAnalysisDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "analysis id required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec, err := s.app.Analysis(ctx, id)
	if err != nil {
		s.log.Error("api.get_analysis_failed", logger.String("id", id), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": rec,
		"sections": analysis.ParseSections(rec.Diagnosis),
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.app.DebugLog(req.Message)
	w.WriteHeader(http.StatusNoContent)
}

// writeAppError maps an app error to a status code and surfaces its message.
func (s *Server) writeAppError(w http.ResponseWriter, event string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error(event, logger.Err(err))
	} else {
		s.log.Warn(event, logger.Err(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		httpErr   *analysis.HTTPError
		reqErr    *analysis.RequestError
		malformed *analysis.MalformedResponseError
		shapeErr  *analysis.UnexpectedShapeError
		launchErr *dispatch.LaunchError
		githubErr *github.APIError
	)
	switch {
	case errors.Is(err, analysis.ErrMissingCredential),
		errors.Is(err, dispatch.ErrEmptyTemplate),
		errors.Is(err, app.ErrInvalidPR):
		return http.StatusBadRequest
	case errors.Is(err, github.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, app.ErrGitHubUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &githubErr):
		if githubErr.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.As(err, &httpErr), errors.As(err, &reqErr),
		errors.As(err, &malformed), errors.As(err, &shapeErr):
		return http.StatusBadGateway
	case errors.As(err, &launchErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
