package devhost

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/probes"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// defaultHistoryWindow is used when a history request names no window.
const defaultHistoryWindow = time.Hour

// httpPrefix is where the module's own HTTP handler is mounted.
const httpPrefix = "/http"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.probes != nil {
		probes.Mount(r, s.probes)
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Handle(wsPath, s.hub)

	r.Handle(httpPrefix+"/*", http.HandlerFunc(s.handleModuleHTTP))

	r.Route("/api/v1/instance", func(r chi.Router) {
		r.Get("/", s.handleGetInstance)
		r.Post("/init", s.handleInit)
		r.Post("/destroy", s.handleDestroy)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Get("/config-fields", s.handleConfigFields)

		r.Get("/definitions", s.handleDefinitions)
		r.Get("/feedback-values", s.handleFeedbackValues)
		r.Get("/variables", s.handleVariables)
		r.Get("/variables/{id}/history", s.handleVariableHistory)

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handlePutAction)
				r.Delete("/", s.handleDeleteAction)
				r.Post("/execute", s.handleExecuteAction)
				r.Post("/learn", s.handleLearnAction)
			})
		})

		r.Route("/feedbacks", func(r chi.Router) {
			r.Get("/", s.handleListFeedbacks)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handlePutFeedback)
				r.Delete("/", s.handleDeleteFeedback)
				r.Post("/learn", s.handleLearnFeedback)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"instance_id": s.host.InstanceID(),
		"initialized": s.host.Initialized(),
		"ws_clients":  s.hub.ClientCount(),
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               s.host.InstanceID(),
		"label":            s.host.Label(),
		"initialized":      s.host.Initialized(),
		"has_http_handler": s.host.HasHTTPHandler(),
		"status":           s.host.Status(),
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	res, err := s.host.Init(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Destroy(r.Context()); err != nil {
		writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.host.Config(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"label": s.host.Label(), "config": config})
}

// updateConfigRequest is the body of PUT /config.
type updateConfigRequest struct {
	Label  string         `json:"label"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.host.UpdateConfig(r.Context(), req.Label, req.Config); err != nil {
		writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.host.ConfigFields(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (s *Server) handleDefinitions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Definitions())
}

func (s *Server) handleFeedbackValues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"values": s.host.FeedbackValues()})
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	values, err := s.host.VariableValues(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"definitions": s.host.Definitions().Variables,
		"values":      values,
	})
}

func (s *Server) handleVariableHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "variable history is not enabled")
		return
	}
	window := defaultHistoryWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeBadRequest(w, "window must be a positive duration")
			return
		}
		window = d
	}

	samples, err := s.history.VariableHistory(r.Context(), s.host.InstanceID(), chi.URLParam(r, "id"), time.Now().Add(-window))
	if err != nil {
		s.logger.Warn("variable history query failed", "error", err)
		writeInternalError(w, "querying variable history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.host.Actions(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handlePutAction(w http.ResponseWriter, r *http.Request) {
	var a protocol.ActionInstance
	if !decodeBody(w, r, &a) {
		return
	}
	a.ID = chi.URLParam(r, "id")
	if err := s.host.PutAction(r.Context(), a); err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := s.host.DeleteAction(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeRequest is the optional body of POST /actions/{id}/execute.
type executeRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.host.ExecuteAction(r.Context(), chi.URLParam(r, "id"), req.DeviceID); err != nil {
		writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLearnAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.host.LearnAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListFeedbacks(w http.ResponseWriter, r *http.Request) {
	feedbacks, err := s.host.Feedbacks(r.Context())
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedbacks": feedbacks})
}

func (s *Server) handlePutFeedback(w http.ResponseWriter, r *http.Request) {
	var f protocol.FeedbackInstance
	if !decodeBody(w, r, &f) {
		return
	}
	f.ID = chi.URLParam(r, "id")
	if err := s.host.PutFeedback(r.Context(), f); err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	if err := s.host.DeleteFeedback(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLearnFeedback(w http.ResponseWriter, r *http.Request) {
	f, err := s.host.LearnFeedback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleModuleHTTP forwards /http/* to the module's HTTP handler.
func (s *Server) handleModuleHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body failed")
		return
	}

	req := protocol.HTTPRequest{
		Method:  r.Method,
		Path:    "/" + chi.URLParam(r, "*"),
		Query:   flatten(r.URL.Query()),
		Headers: flatten(r.Header),
		Body:    string(body),
		BaseURL: httpPrefix,
	}
	res, err := s.host.HTTP(r.Context(), req)
	if err != nil {
		writeHostError(w, err)
		return
	}

	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, res.Body) //nolint:errcheck // Best-effort write
}

func flatten(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// decodeOptionalBody decodes a JSON body if one was sent.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
