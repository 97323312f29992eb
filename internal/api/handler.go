package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/agent"
	"github.com/oakline/advisory/internal/memory"
	"github.com/oakline/advisory/internal/orchestrator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	hub    *memory.Hub
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(hub *memory.Hub, orch *orchestrator.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, orch: orch, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/analyze", h.analyze)

		// Episodic memory routes
		r.Post("/memory/episodic/events", h.addEvent)
		r.Post("/memory/episodic/search", h.searchEvents)
		r.Get("/memory/episodic/{clientID}/timeline", h.timeline)

		// Semantic memory routes
		r.Post("/memory/semantic", h.createSemantic)
		r.Put("/memory/semantic", h.updateSemantic)
		r.Get("/memory/semantic/{clientID}", h.listSemantic)
		r.Post("/memory/semantic/search", h.searchSemantic)

		// Procedural memory routes
		r.Post("/memory/procedures", h.learnProcedure)
		r.Get("/memory/procedures", h.listProcedures)
		r.Post("/memory/procedures/recommend", h.recommendProcedures)
		r.Post("/memory/procedures/{procedureID}/executions", h.recordExecution)
		r.Get("/memory/procedures/{procedureID}/executions", h.listExecutions)
		r.Post("/memory/procedures/{procedureID}/refine", h.refineProcedure)

		// Combined context routes
		r.Get("/memory/context/{clientID}", h.clientContext)
		r.Post("/memory/context/search", h.relevantContext)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "advisory"})
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var client agent.ClientData
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	analysis, err := h.orch.ComprehensiveAnalysis(r.Context(), client)
	if err != nil {
		h.logger.Error("analysis failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":    analysis.ClientID,
		"results":      analysis.Results,
		"report":       orchestrator.BuildReport(analysis.Results, analysis.GeneratedAt),
		"generated_at": analysis.GeneratedAt,
	})
}

func (h *Handler) addEvent(w http.ResponseWriter, r *http.Request) {
	var in memory.AddEventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ev, err := h.hub.Episodic.AddEvent(r.Context(), in)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type searchRequest struct {
	ClientID string `json:"client_id"`
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
}

func (h *Handler) searchEvents(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	events, err := h.hub.Episodic.RetrieveMemories(r.Context(), req.ClientID, req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := h.hub.Episodic.ClientTimeline(r.Context(), clientID, start, end)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type semanticRequest struct {
	ClientID   string         `json:"client_id"`
	MemoryType string         `json:"memory_type"`
	Content    map[string]any `json:"content"`
}

func (h *Handler) createSemantic(w http.ResponseWriter, r *http.Request) {
	var req semanticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := h.hub.Semantic.Create(r.Context(), req.ClientID, req.MemoryType, req.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) updateSemantic(w http.ResponseWriter, r *http.Request) {
	var req semanticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := h.hub.Semantic.Update(r.Context(), req.ClientID, req.MemoryType, req.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listSemantic(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	memories, err := h.hub.Semantic.ListActive(r.Context(), clientID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (h *Handler) searchSemantic(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	memories, err := h.hub.Semantic.Query(r.Context(), req.ClientID, req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

type learnRequest struct {
	ClientID      string   `json:"client_id"`
	EpisodeIDs    []string `json:"episode_ids"`
	ProcedureType string   `json:"procedure_type"`
}

func (h *Handler) learnProcedure(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, err := h.hub.Procedural.Learn(r.Context(), req.ClientID, req.EpisodeIDs, req.ProcedureType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProcedures(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	minConfidence := 0.0
	if s := r.URL.Query().Get("min_confidence"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid min_confidence"})
			return
		}
		minConfidence = v
	}
	procs, err := h.hub.Procedural.List(r.Context(), clientID, r.URL.Query().Get("category"), minConfidence)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedures": procs})
}

type recommendRequest struct {
	ClientID  string `json:"client_id"`
	Situation string `json:"situation"`
	TopK      int    `json:"top_k"`
}

func (h *Handler) recommendProcedures(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	procs, err := h.hub.Procedural.Recommend(r.Context(), req.ClientID, req.Situation, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedures": procs})
}

type executionRequest struct {
	ExecutedAt *time.Time     `json:"executed_at"`
	Outcome    string         `json:"outcome"`
	Metrics    map[string]any `json:"metrics"`
}

func (h *Handler) recordExecution(w http.ResponseWriter, r *http.Request) {
	procedureID := chi.URLParam(r, "procedureID")
	var req executionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	executedAt := time.Time{}
	if req.ExecutedAt != nil {
		executedAt = *req.ExecutedAt
	}
	p, err := h.hub.Procedural.RecordExecution(r.Context(), procedureID, executedAt, req.Outcome, req.Metrics)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	procedureID := chi.URLParam(r, "procedureID")
	recs, err := h.hub.Procedural.Executions(r.Context(), procedureID, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs})
}

func (h *Handler) refineProcedure(w http.ResponseWriter, r *http.Request) {
	procedureID := chi.URLParam(r, "procedureID")
	p, err := h.hub.Procedural.Refine(r.Context(), procedureID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) clientContext(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	lookback := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid days parameter"})
			return
		}
		lookback = n
	}
	cc, err := h.hub.GetClientContext(r.Context(), clientID, lookback)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

func (h *Handler) relevantContext(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rc, err := h.hub.GetRelevantContext(r.Context(), req.ClientID, req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	return time.Parse(time.RFC3339, r.URL.Query().Get(name))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
