package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"canvas/api/internal/component"
	"canvas/api/internal/events"
	"canvas/api/internal/presence"
	"canvas/api/internal/rbac"
	"canvas/api/internal/search"
	"canvas/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// allow writes a 403 and returns false when the server mode forbids action.
func (s *HTTPServer) allow(w http.ResponseWriter, action rbac.Action) bool {
	if s.service.Can(action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("Not available in %s mode", s.service.Mode()), nil)
	return false
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": s.service.Mode()})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/catalog" {
		c := s.service.Catalog()
		types := c.Types()
		items := make([]any, 0, len(types))
		for _, typ := range types {
			def, _ := c.Definition(typ)
			items = append(items, def)
		}
		writeJSON(w, http.StatusOK, map[string]any{"components": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.allow(w, rbac.ActionRead) {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(search.Query{
			Text:       q,
			DocumentID: strings.TrimSpace(r.URL.Query().Get("documentId")),
			Type:       strings.TrimSpace(r.URL.Query().Get("type")),
			Limit:      limit,
			Offset:     offset,
		}))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		items, err := s.service.ListDocuments(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list documents", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		if !s.allow(w, rbac.ActionBuild) {
			return
		}
		var body struct {
			Name   string `json:"name"`
			Author string `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateDocument(r.Context(), body.Name, body.Author)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "catalog" && r.Method == http.MethodGet {
		def, ok := s.service.Catalog().Definition(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Unknown component type %s", parts[2]), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"definition": def})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		payload, err := s.service.GetDocument(r.Context(), documentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "ws" && r.Method == http.MethodGet {
		s.handleWebSocket(w, r, documentID)
		return
	}

	if len(parts) >= 4 && parts[3] == "components" {
		s.handleComponents(w, r, documentID, parts[4:])
		return
	}

	if len(parts) == 4 && (parts[3] == "undo" || parts[3] == "redo") && r.Method == http.MethodPost {
		if !s.allow(w, rbac.ActionBuild) {
			return
		}
		step := s.service.Undo
		if parts[3] == "redo" {
			step = s.service.Redo
		}
		payload, err := step(r.Context(), documentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		if !s.allow(w, rbac.ActionBuild) {
			return
		}
		payload, err := s.service.History(r.Context(), documentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "state" && r.Method == http.MethodPost {
		if !s.allow(w, rbac.ActionState) {
			return
		}
		var body struct {
			Mutations map[string]any `json:"mutations"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.EditState(r.Context(), documentID, body.Mutations)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "events" && r.Method == http.MethodPost {
		if !s.allow(w, rbac.ActionEvent) {
			return
		}
		var ev events.Event
		if err := decodeBody(r, &ev); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if ev.ID == "" {
			ev.ID = util.NewID("evt")
		}
		mutations, err := s.service.HandleEvent(r.Context(), documentID, ev, nil)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trackingId": ev.ID, "mutations": mutations})
		return
	}

	if len(parts) == 4 && parts[3] == "evaluate" && r.Method == http.MethodPost {
		if !s.allow(w, rbac.ActionRead) {
			return
		}
		var body EvaluateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Evaluate(r.Context(), documentID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "presence" {
		if !s.allow(w, rbac.ActionPresence) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			entries, err := s.service.Presence(r.Context(), documentID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		case http.MethodPost:
			var body presence.Entry
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			entries, err := s.service.UpdatePresence(r.Context(), documentID, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) >= 4 && parts[3] == "versions" {
		s.handleVersions(w, r, documentID, parts[4:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// handleComponents serves /api/documents/{id}/components/... ; rest is the
// path after "components".
func (s *HTTPServer) handleComponents(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	if r.Method != http.MethodGet && !s.allow(w, rbac.ActionBuild) {
		return
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListComponents(r.Context(), documentID, strings.TrimSpace(r.URL.Query().Get("parentId")))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"components": items})
		case http.MethodPost:
			var body struct {
				ID       string               `json:"id"`
				Type     string               `json:"type"`
				ParentID string               `json:"parentId"`
				Position *int                 `json:"position"`
				Content  map[string]string    `json:"content"`
				Handlers map[string]string    `json:"handlers"`
				Binding  *component.Binding   `json:"binding"`
				Visible  component.Visibility `json:"visible"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			position := -1
			if body.Position != nil {
				position = *body.Position
			}
			added, err := s.service.AddComponent(r.Context(), documentID, component.Component{
				ID:       body.ID,
				Type:     body.Type,
				ParentID: body.ParentID,
				Position: position,
				Content:  body.Content,
				Handlers: body.Handlers,
				Binding:  body.Binding,
				Visible:  body.Visible,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"component": added})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	componentID := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			c, err := s.service.GetComponent(r.Context(), documentID, componentID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"component": c})
		case http.MethodDelete:
			removed, err := s.service.DeleteComponent(r.Context(), documentID, componentID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "nested" && r.Method == http.MethodGet {
		items, err := s.service.NestedComponents(r.Context(), documentID, componentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"components": items})
		return
	}

	if len(rest) == 2 && rest[1] == "move" && r.Method == http.MethodPost {
		var body struct {
			ParentID string `json:"parentId"`
			Position *int   `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		position := -1
		if body.Position != nil {
			position = *body.Position
		}
		s.writeComponent(w)(s.service.MoveComponent(r.Context(), documentID, componentID, body.ParentID, position))
		return
	}

	if len(rest) == 2 && rest[1] == "content" && r.Method == http.MethodPatch {
		var body struct {
			Content map[string]string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeComponent(w)(s.service.SetContent(r.Context(), documentID, componentID, body.Content))
		return
	}

	if len(rest) == 3 && rest[1] == "handlers" && r.Method == http.MethodPut {
		var body struct {
			Handler string `json:"handler"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeComponent(w)(s.service.SetHandler(r.Context(), documentID, componentID, rest[2], body.Handler))
		return
	}

	if len(rest) == 2 && rest[1] == "binding" && r.Method == http.MethodPut {
		var body struct {
			Binding *component.Binding `json:"binding"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeComponent(w)(s.service.SetBinding(r.Context(), documentID, componentID, body.Binding))
		return
	}

	if len(rest) == 2 && rest[1] == "visible" && r.Method == http.MethodPut {
		var body struct {
			Visible component.Visibility `json:"visible"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeComponent(w)(s.service.SetVisibility(r.Context(), documentID, componentID, body.Visible))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) writeComponent(w http.ResponseWriter) func(component.Component, error) {
	return func(c component.Component, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"component": c})
	}
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	if !s.allow(w, rbac.ActionVersion) {
		return
	}

	if len(rest) == 0 && r.Method == http.MethodGet {
		payload, err := s.service.Versions(r.Context(), documentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body struct {
			Name   string `json:"name"`
			Author string `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SaveVersion(r.Context(), documentID, body.Name, body.Author)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(rest) == 2 && rest[1] == "restore" && r.Method == http.MethodPost {
		payload, err := s.service.RestoreVersion(r.Context(), documentID, rest[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 2 && rest[1] == "compare" && r.Method == http.MethodGet {
		payload, err := s.service.CompareVersion(r.Context(), documentID, rest[0])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
