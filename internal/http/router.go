package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harbornex/harbor/internal/service/assign"
	"github.com/harbornex/harbor/internal/service/auth"
	"github.com/harbornex/harbor/internal/service/chunk"
	"github.com/harbornex/harbor/internal/service/deploy"
	"github.com/harbornex/harbor/internal/service/project"
	"github.com/harbornex/harbor/internal/service/webhook"
	"github.com/harbornex/harbor/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	project  project.Service
	chunk    chunk.Service
	deploy   deploy.Service
	webhook  webhook.Service
	guard    *assign.Guard
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	rateLimitAgent     = 240
	rateLimitWebhook   = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, chunkSvc chunk.Service, deploySvc deploy.Service, webhookSvc webhook.Service, guard *assign.Guard, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		project: projectSvc,
		chunk:   chunkSvc,
		deploy:  deploySvc,
		webhook: webhookSvc,
		guard:   guard,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("auth_signup", r.withRateLimit("auth_signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("auth_login", r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/projects", r.audit("projects", r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("projects_sub", r.handleProjectSubroutes))
	r.mux.HandleFunc("/chunks", r.audit("chunks", r.handlerAuthRate("chunks", rateLimitUserRead, rateWindowDefault, r.handleChunks)))
	r.mux.HandleFunc("/chunks/heartbeat", r.audit("chunks_heartbeat", r.handlerKeyRate("chunks_heartbeat", rateLimitAgent, rateWindowDefault, r.handleHeartbeat)))
	r.mux.HandleFunc("/deploy", r.audit("deploy", r.handlerKeyRate("deploy", rateLimitUserWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/webhooks/github", r.audit("webhooks_github", r.withRateLimit("webhooks_github", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGitHubWebhook)))
	r.mux.HandleFunc("/ws/deployments", r.audit("ws_deployments", r.handlerAuthRate("ws_deployments", rateLimitWebsocket, rateWindowRealtime, r.handleDeploymentsWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{
			"id":     user.ID,
			"email":  user.Email,
			"apiKey": user.APIKey,
		},
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"tokens": tokens,
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload project.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		payload.UserID = info.UserID
		proj, err := r.project.Create(req.Context(), payload)
		if err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, proj)
	case http.MethodGet:
		projects, err := r.project.List(req.Context(), info.UserID)
		if err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	if len(parts) >= 2 {
		switch parts[1] {
		case "status":
			r.handleProjectStatus(w, req, projectID)
			return
		case "agent":
			r.handlerKeyRate("projects_agent", rateLimitAgent, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleProjectAgent(w, req, projectID)
			})(w, req)
			return
		case "github":
			r.handlerAuthRate("projects_github", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleProjectGitHub(w, req, projectID)
			})(w, req)
			return
		case "env":
			key := ""
			if len(parts) == 3 {
				key = parts[2]
			}
			r.handlerAuthRate("projects_env", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleProjectEnv(w, req, projectID, key)
			})(w, req)
			return
		case "deployments":
			r.handlerAuthRate("projects_deployments", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleProjectDeployments(w, req, projectID)
			})(w, req)
			return
		}
		r.notFound(w)
		return
	}
	r.handlerAuthRate("projects_item", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
		r.handleProjectItem(w, req, projectID)
	})(w, req)
}

func (r *Router) handleProjectItem(w http.ResponseWriter, req *http.Request, projectID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.Get(req.Context(), projectID, info.UserID)
		if err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, proj)
	case http.MethodDelete:
		if _, err := r.project.Get(req.Context(), projectID, info.UserID); err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		if err := r.deploy.CancelForProject(req.Context(), projectID); err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		if err := r.project.Delete(req.Context(), projectID, info.UserID); err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectGitHub(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		RepoFullName  string `json:"repoFullName"`
		Branch        string `json:"branch"`
		WebhookSecret string `json:"webhookSecret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.project.LinkGitHub(req.Context(), projectID, info.UserID, payload.RepoFullName, payload.Branch, payload.WebhookSecret); err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

func (r *Router) handleProjectEnv(w http.ResponseWriter, req *http.Request, projectID, key string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodPost:
		var payload project.EnvVarInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		payload.ProjectID = projectID
		payload.UserID = info.UserID
		if err := r.project.AddEnvVar(req.Context(), payload); err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
	case http.MethodGet:
		vars, err := r.project.ListEnvVars(req.Context(), projectID, info.UserID)
		if err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, vars)
	case http.MethodDelete:
		if key == "" {
			writeError(w, http.StatusBadRequest, "env key required in path")
			return
		}
		if err := r.project.DeleteEnvVar(req.Context(), projectID, info.UserID, key); err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Branch  string `json:"branch"`
			ChunkID string `json:"chunkId"`
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&payload)
		}
		deployment, err := r.deploy.Trigger(req.Context(), deploy.TriggerInput{
			ProjectID: projectID,
			UserID:    info.UserID,
			Branch:    payload.Branch,
			ChunkID:   payload.ChunkID,
		})
		if err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, deployment)
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		deployments, err := r.deploy.ListRecent(req.Context(), projectID, info.UserID, limit)
		if err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, deployments)
	case http.MethodDelete:
		deploymentID := req.URL.Query().Get("deployment_id")
		if deploymentID == "" {
			writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
			return
		}
		if err := r.deploy.Delete(req.Context(), deploymentID, info.UserID); err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

// handleProjectStatus is the agent status callback. Browsers never call
// it, but local tooling does, so it answers CORS preflight.
func (r *Router) handleProjectStatus(w http.ResponseWriter, req *http.Request, projectID string) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", "*")
	headers.Set("Access-Control-Allow-Methods", "PATCH, OPTIONS")
	headers.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	r.handlerKeyRate("projects_status", rateLimitAgent, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
		info, _ := authInfoFromContext(req.Context())
		var payload struct {
			Status       string `json:"status"`
			TunnelURL    string `json:"tunnelUrl"`
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.UpdateRuntime(req.Context(), project.RuntimeInput{
			ProjectID:    projectID,
			UserID:       info.UserID,
			Status:       payload.Status,
			TunnelURL:    payload.TunnelURL,
			ErrorMessage: payload.ErrorMessage,
		})
		if err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, proj)
	})(w, req)
}

func (r *Router) handleProjectAgent(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		ChunkID      string `json:"chunkId"`
		Status       string `json:"status"`
		TunnelURL    string `json:"tunnelUrl"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ChunkID != "" {
		if err := r.guard.Assign(req.Context(), projectID, payload.ChunkID, info.UserID); err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
	}
	proj, err := r.project.UpdateRuntime(req.Context(), project.RuntimeInput{
		ProjectID:    projectID,
		UserID:       info.UserID,
		Status:       payload.Status,
		TunnelURL:    payload.TunnelURL,
		ErrorMessage: payload.ErrorMessage,
	})
	if err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (r *Router) handleChunks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	chunks, err := r.chunk.ListForUser(req.Context(), info.UserID)
	if err != nil {
		respondError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (r *Router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		ChunkID string  `json:"chunkId"`
		Name    string  `json:"name"`
		Type    string  `json:"type"`
		DC      int     `json:"dc"`
		DM      int     `json:"dm"`
		DS      int     `json:"ds"`
		DB      int     `json:"db"`
		UsageDC float64 `json:"usageDc"`
		UsageDM float64 `json:"usageDm"`
		UsageDS float64 `json:"usageDs"`
		UsageDB float64 `json:"usageDb"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	registered, err := r.chunk.Heartbeat(req.Context(), chunk.HeartbeatInput{
		ChunkID: payload.ChunkID,
		UserID:  info.UserID,
		Name:    payload.Name,
		Type:    payload.Type,
		DC:      payload.DC,
		DM:      payload.DM,
		DS:      payload.DS,
		DB:      payload.DB,
		UsageDC: payload.UsageDC,
		UsageDM: payload.UsageDM,
		UsageDS: payload.UsageDS,
		UsageDB: payload.UsageDB,
	})
	if err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, registered)
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Subdomain string `json:"subdomain"`
			Name      string `json:"name"`
			Framework string `json:"framework"`
			Branch    string `json:"branch"`
			ChunkID   string `json:"chunkId"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		deployment, err := r.deploy.TriggerBySubdomain(req.Context(), deploy.BySubdomainInput{
			UserID:    info.UserID,
			Subdomain: payload.Subdomain,
			Name:      payload.Name,
			Framework: payload.Framework,
			Branch:    payload.Branch,
			ChunkID:   payload.ChunkID,
		})
		if err != nil {
			respondError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, deployment)
	case http.MethodGet:
		projects, err := r.project.List(req.Context(), info.UserID)
		if err != nil {
			respondError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	event := req.Header.Get("x-github-event")
	signature := req.Header.Get("x-hub-signature-256")
	result, err := r.webhook.HandlePush(req.Context(), event, signature, body)
	if err != nil {
		respondError(w, err, http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if result.Triggered {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deployments websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if _, err := r.project.Get(req.Context(), projectID, info.UserID); err != nil {
		respondError(w, err, http.StatusInternalServerError)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Via
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
