package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	appMiddleware "task-tracker/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

var (
	errNoPayload     = errors.New("no file uploaded")
	errInvalidFormat = errors.New(`expected {"tasks": [...]} or a JSON array`)
)

// Handler — HTTP-слой модуля задач.
//
// Здесь лежит всё, что относится к HTTP: роуты, разбор JSON, заголовки,
// коды ответов. Состояние и правила живут в Service: handler -> service -> store.
type Handler struct {
	svc        *Service
	log        *zap.Logger
	userHeader string
	timeout    time.Duration
	now        func() time.Time
}

// HandlerConfig — настройки HTTP-слоя.
type HandlerConfig struct {
	// UserHeader — заголовок с идентификатором пользователя.
	UserHeader string
	// RequestTimeout — таймаут на запрос; 0 отключает.
	RequestTimeout time.Duration
}

// NewHandler создаёт Handler поверх сервиса.
func NewHandler(svc *Service, log *zap.Logger, cfg HandlerConfig) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-User-ID"
	}
	return &Handler{
		svc:        svc,
		log:        log,
		userHeader: cfg.UserHeader,
		timeout:    cfg.RequestTimeout,
		now:        time.Now,
	}
}

// Router собирает HTTP-роутер для задач.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(appMiddleware.JSONHeaderMiddleware)
		r.Use(appMiddleware.UserIDMiddleware(h.userHeader))
		if h.timeout > 0 {
			r.Use(appMiddleware.RequestTimeoutMiddleware(h.timeout))
		}

		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)

		// Статические пути раньше /{id}, чтобы "export" не считался id.
		r.Get("/export", h.exportTasks)
		r.Post("/import", h.importTasks)

		r.Get("/{id}", h.getTask)
		r.Put("/{id}", h.updateTask)
		r.Patch("/{id}", h.updateTask)
		r.Delete("/{id}", h.deleteTask)
	})
	return r
}

// listTasks обрабатывает GET /api/tasks: {"tasks": [...]}.
func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	tasks, err := h.svc.ListTasks(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileDocument{Tasks: tasks})
}

// createTask обрабатывает POST /api/tasks. Тело — объект задачи
// либо {"task": {...}}.
func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	raw, err := decodeAttrs(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	created, err := h.svc.CreateTask(r.Context(), userID, raw)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// getTask обрабатывает GET /api/tasks/{id}.
func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	task, err := h.svc.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// updateTask обрабатывает PUT/PATCH /api/tasks/{id}: частичное обновление.
func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	raw, err := decodeAttrs(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	updated, err := h.svc.UpdateTask(r.Context(), userID, chi.URLParam(r, "id"), raw)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteTask обрабатывает DELETE /api/tasks/{id}: 204 без тела.
func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	if _, err := h.svc.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportTasks обрабатывает GET /api/tasks/export: файл для скачивания.
func (h *Handler) exportTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	data, err := h.svc.ExportTasks(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("tasks-%s.json", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// importTasks обрабатывает POST /api/tasks/import.
//
// Принимает multipart-поле "file" или JSON в теле запроса; внутри —
// {"tasks": [...]} или голый массив.
func (h *Handler) importTasks(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())

	data, err := readImportPayload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	batch, err := ParseImportPayload(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file format: "+err.Error())
		return
	}

	res, err := h.svc.ImportTasks(r.Context(), userID, batch)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Successfully imported %d tasks", res.Imported),
		"imported": res.Imported,
		"added":    res.Added,
		"replaced": res.Replaced,
	})
}

// handleServiceError переводит типизированные ошибки сервиса в HTTP-ответы.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs   ValidationErrors
		invalid *InvalidTasksError
	)
	switch {
	case errors.Is(err, context.Canceled):
		// Клиент ушёл или сервер останавливается: отвечать уже некому.
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "Request timeout")
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verrs.Messages()})
	case errors.As(err, &invalid):
		items := make([]map[string]any, 0, len(invalid.Items))
		for _, it := range invalid.Items {
			items = append(items, map[string]any{"index": it.Index, "errors": it.Errors.Messages()})
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "Some tasks are invalid",
			"invalid": items,
		})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "Invalid user identity")
	case errors.Is(err, ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		h.log.Error("task request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeAttrs читает JSON-объект задачи из тела запроса.
func decodeAttrs(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var raw map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("expected a JSON object")
	}
	if nested, ok := raw["task"].(map[string]any); ok {
		return nested, nil
	}
	return raw, nil
}

func readImportPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = body
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errNoPayload
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, errNoPayload
		}
		return data, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errNoPayload
	}
	return data, nil
}

// ParseImportPayload разбирает {"tasks": [...]} или [...].
// Элементы, не являющиеся объектами, превращаются в пустые атрибуты и
// затем отклоняются валидацией.
func ParseImportPayload(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)

	var items []any
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var doc struct {
			Tasks *[]any `json:"tasks"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		if doc.Tasks == nil {
			return nil, errInvalidFormat
		}
		items = *doc.Tasks
	default:
		return nil, errInvalidFormat
	}

	batch := make([]map[string]any, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			obj = map[string]any{}
		}
		batch[i] = obj
	}
	return batch, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
