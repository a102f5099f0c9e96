// Package api — HTTP-обвязка доменных операций для дашборда
// и триггеров планировщика.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/parser"
	"tg-feed-digest/internal/usecase/ingest"
	"tg-feed-digest/internal/usecase/schedule"
	"tg-feed-digest/internal/usecase/session"
	"tg-feed-digest/internal/usecase/summarygen"
)

// Handler собирает маршруты API.
type Handler struct {
	ingestor       *ingest.Service
	sessions       *session.Service
	summaries      *summarygen.Service
	jobs           *schedule.Jobs
	schedulerToken string
	log            zerolog.Logger
}

// NewHandler создаёт обвязку.
func NewHandler(ingestor *ingest.Service, sessions *session.Service, summaries *summarygen.Service, jobs *schedule.Jobs, schedulerToken string, logger zerolog.Logger) *Handler {
	return &Handler{
		ingestor:       ingestor,
		sessions:       sessions,
		summaries:      summaries,
		jobs:           jobs,
		schedulerToken: schedulerToken,
		log:            logger,
	}
}

// Routes монтирует маршруты на роутер.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/sources/validate", h.validateSource)
	r.Post("/api/channels/{id}/fetch", h.fetchChannel)
	r.Post("/api/summaries/generate", h.generateSummary)

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/code", h.sendAuthCode)
		r.Post("/sign-in", h.signIn)
		r.Post("/save", h.saveSession)
		r.Get("/channels", h.listDialogs)
		r.Post("/channels/track", h.trackDialog)
		r.Post("/disconnect", h.disconnect)
	})

	// Триггеры батч-задач: тот же код, что у тикера планировщика,
	// авторизация общим секретом.
	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(h.schedulerAuth)
		r.Post("/fetch-all", h.runJob(h.jobs.RunFetchAll))
		r.Post("/daily", h.runJob(h.jobs.RunDailySummaries))
		r.Post("/weekly", h.runJob(h.jobs.RunWeeklySummaries))
	})
}

func (h *Handler) schedulerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.schedulerToken == "" || r.Header.Get("X-Scheduler-Token") != h.schedulerToken {
			writeError(w, http.StatusUnauthorized, "недействительный токен планировщика")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) runJob(job func(context.Context) (domain.RunReport, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := job(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("api: прогон задачи не удался")
			writeError(w, http.StatusInternalServerError, "прогон не удался")
			return
		}
		writeJSON(w, report)
	}
}

func (h *Handler) validateSource(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	out, err := h.ingestor.ValidateAndGetSourceInfo(r.Context(), req.URL)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, out)
}

func (h *Handler) fetchChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор канала")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	added, skipped, err := h.ingestor.FetchAndSaveChannelPosts(r.Context(), channelID, parser.FetchOptions{Limit: limit})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int{"added": added, "skipped": skipped})
}

func (h *Handler) generateSummary(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		UserID  int64  `json:"user_id"`
		Cadence string `json:"cadence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "требуются user_id и cadence")
		return
	}
	summary, err := h.summaries.Generate(r.Context(), req.UserID, domain.SummaryCadence(req.Cadence))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) sendAuthCode(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		UserID int64  `json:"user_id"`
		Phone  string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "требуются user_id и phone")
		return
	}
	sent, err := h.sessions.SendAuthCode(r.Context(), req.UserID, req.Phone)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, sent)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Handle   []byte `json:"handle"`
		Phone    string `json:"phone"`
		Code     string `json:"code"`
		CodeHash string `json:"code_hash"`
		Password string `json:"password,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Handle) == 0 {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	sessionHandle, err := h.sessions.SignIn(r.Context(), req.Handle, req.Phone, req.Code, req.CodeHash, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"session_handle": sessionHandle})
}

func (h *Handler) saveSession(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		UserID        int64  `json:"user_id"`
		SessionHandle []byte `json:"session_handle"`
		Phone         string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || len(req.SessionHandle) == 0 {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if err := h.sessions.SaveSession(r.Context(), req.UserID, req.SessionHandle, req.Phone); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) listDialogs(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		writeError(w, http.StatusBadRequest, "требуется user_id")
		return
	}
	dialogs, err := h.sessions.ListChannels(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, dialogs)
}

func (h *Handler) trackDialog(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		UserID   int64 `json:"user_id"`
		TGChatID int64 `json:"tg_chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.TGChatID == 0 {
		writeError(w, http.StatusBadRequest, "требуются user_id и tg_chat_id")
		return
	}
	// Access hash не принимается от клиента: диалог перечитывается
	// из Telegram и сверяется по идентификатору чата.
	dialogs, err := h.sessions.ListChannels(r.Context(), req.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	for _, dialog := range dialogs {
		if dialog.TGChatID != req.TGChatID {
			continue
		}
		ch, err := h.sessions.TrackDialog(r.Context(), req.UserID, dialog)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, ch)
		return
	}
	writeError(w, http.StatusNotFound, "канал не найден среди диалогов")
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "требуется user_id")
		return
	}
	if err := h.sessions.Disconnect(r.Context(), req.UserID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeDomainError переводит доменные ошибки в HTTP-статусы.
// Тексты ошибок не содержат чувствительных блобов по построению.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNeeds2FA):
		writeJSONStatus(w, http.StatusConflict, map[string]string{"error": err.Error(), "code": "needs_2fa"})
	case errors.Is(err, domain.ErrCodeInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrNoActiveSession), errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedSource):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		if perr, ok := domain.AsParseError(err); ok {
			h.writeParseError(w, perr)
			return
		}
		h.log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func (h *Handler) writeParseError(w http.ResponseWriter, perr *domain.ParseError) {
	status := http.StatusBadGateway
	switch perr.Kind {
	case domain.ParseErrInvalidURL:
		status = http.StatusUnprocessableEntity
	case domain.ParseErrSourceNotFound:
		status = http.StatusNotFound
	case domain.ParseErrAccessDenied:
		status = http.StatusForbidden
	case domain.ParseErrRateLimited:
		status = http.StatusTooManyRequests
	}
	writeJSONStatus(w, status, map[string]string{
		"error": perr.Error(),
		"kind":  string(perr.Kind),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONStatus(w, http.StatusOK, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, map[string]string{"error": message})
}
