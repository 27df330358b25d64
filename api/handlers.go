package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/agent"
	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/runtime"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Options wires the handler onto the runtime.
type Options struct {
	Manager    *runtime.Manager
	Supervisor *runtime.Supervisor
	// Reload re-reads configuration and replaces the agent population. Nil
	// disables the reload endpoint.
	Reload func(configPath string) error
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer  prometheus.Gatherer
	Collector *metrics.Collector
	Logger    *zap.Logger

	AllowedOrigins []string
	RateLimitRPS   float64
	RequestTimeout time.Duration
}

type handler struct {
	opts   Options
	logger *zap.Logger
}

// NewHandler assembles the full management surface with its middleware stack.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	h := &handler{opts: opts, logger: opts.Logger.With(zap.String("component", "api"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agents", h.listAgents)
	mux.HandleFunc("POST /v1/agents", h.createAgent)
	mux.HandleFunc("GET /v1/agents/{id}", h.getAgent)
	mux.HandleFunc("PUT /v1/agents/{id}/start", h.startAgent)
	mux.HandleFunc("PUT /v1/agents/{id}/stop", h.stopAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", h.deleteAgent)
	mux.HandleFunc("POST /v1/agents/{id}/execute", h.executeFunction)
	mux.HandleFunc("GET /v1/jobs/{id}", h.getJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", h.cancelJob)
	mux.HandleFunc("GET /v1/system/status", h.systemStatus)
	mux.HandleFunc("POST /v1/system/reload", h.reload)
	mux.HandleFunc("GET /health", h.health)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// Recovery sits innermost so it runs on the same goroutine as the
	// handler, inside the timeout boundary.
	return Chain(mux,
		RequestID(),
		RequestLogger(h.logger),
		CORS(opts.AllowedOrigins),
		RateLimit(opts.RateLimitRPS, h.logger),
		Metrics(opts.Collector),
		Timeout(opts.RequestTimeout),
		Recovery(h.logger),
	)
}

// agentByRef resolves a path segment as an agent id first, then as a name.
func (h *handler) agentByRef(ref string) (*agent.Core, error) {
	core, err := h.opts.Manager.GetAgent(ref)
	if err == nil {
		return core, nil
	}
	return h.opts.Manager.GetAgentByName(ref)
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		return types.NewError(types.ErrValidation, "malformed request body: "+err.Error()).
			WithComponent("api")
	}
	return nil
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
	var infos []types.AgentInfo
	if cap := r.URL.Query().Get("capability"); cap != "" {
		for _, core := range h.opts.Manager.FindByCapability(cap) {
			infos = append(infos, core.Info())
		}
	} else {
		infos = h.opts.Manager.ListAgents()
	}
	if infos == nil {
		infos = []types.AgentInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var cfg types.AgentConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	core, err := h.opts.Manager.CreateAgent(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg.AutoStart {
		if err := h.opts.Manager.StartAgent(core.ID()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agent_id": core.ID()})
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	core, err := h.agentByRef(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, core.Info())
}

func (h *handler) startAgent(w http.ResponseWriter, r *http.Request) {
	core, err := h.agentByRef(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if core.IsRunning() {
		writeErrorCode(w, types.ErrAlreadyRunning, "agent is already running")
		return
	}
	if err := h.opts.Manager.StartAgent(core.ID()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) stopAgent(w http.ResponseWriter, r *http.Request) {
	core, err := h.agentByRef(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !core.IsRunning() {
		writeErrorCode(w, types.ErrState, "agent is already stopped")
		return
	}
	if err := h.opts.Manager.StopAgent(core.ID()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	core, err := h.agentByRef(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.opts.Manager.DeleteAgent(core.ID()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Function string          `json:"function"`
	Params   types.AgentData `json:"params"`
	Priority int             `json:"priority"`
}

// executeFunction enqueues the call and answers immediately with the job id;
// clients poll /v1/jobs/{id} for the outcome.
func (h *handler) executeFunction(w http.ResponseWriter, r *http.Request) {
	core, err := h.agentByRef(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Function == "" {
		writeErrorCode(w, types.ErrValidation, "function name is required")
		return
	}
	jobID, err := core.ExecuteFunctionAsync(req.Function, req.Params, req.Priority, "api")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	core, job, err := h.opts.Manager.FindJob(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"agent_id": core.ID(),
		"function": job.Function,
		"status":   job.Status,
		"result":   job.Result,
	})
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	core, job, err := h.opts.Manager.FindJob(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cancelled, err := core.Jobs().Cancel(job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    job.ID,
		"cancelled": cancelled,
	})
}

// systemStatus serves the wire shape built from the supervisor's last
// snapshot plus live job counters.
func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := h.opts.Supervisor.Status()
	stats := h.opts.Manager.AggregateJobStats()

	var lastCheck int64
	if !status.Timestamp.IsZero() {
		lastCheck = status.Timestamp.Unix()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"llm_backend": map[string]bool{
			"running": status.LLMBackend.Running,
			"healthy": status.LLMBackend.Healthy,
		},
		"agents": map[string]int{
			"total":   status.AgentsTotal,
			"running": status.AgentsRunning,
		},
		"jobs": map[string]any{
			"pending":         stats.Pending,
			"running":         stats.Running,
			"completed_total": stats.Completed,
			"failed_total":    stats.Failed,
		},
		"avg_response_time_ms":   h.opts.Manager.AverageExecMS(),
		"last_health_check_unix": lastCheck,
		"healthy":                status.Healthy,
	})
}

type reloadRequest struct {
	ConfigPath string `json:"config_path"`
}

func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	if h.opts.Reload == nil {
		writeErrorCode(w, types.ErrState, "reload is not configured")
		return
	}
	var req reloadRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := h.opts.Reload(req.ConfigPath); err != nil {
		h.logger.Error("configuration reload failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.opts.Supervisor.Status()
	code := http.StatusOK
	if !status.Timestamp.IsZero() && !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy":   status.Healthy || status.Timestamp.IsZero(),
		"timestamp": time.Now().Unix(),
	})
}
