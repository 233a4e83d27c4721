package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// DeliverCallback принимает финальный callback внешней системы.
// POST /api/v1/callbacks/{token}
//
// Token одноразовый: повторная доставка, неизвестный или
// инвалидированный token получают 410 INVALID_TOKEN.
func (h *Handler) DeliverCallback(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		InvalidToken(w, "malformed callback token")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	// Тело `null` декодируется в nil map; staged callback обязан быть
	// непустым jsonb-объектом, иначе executor не увидит доставку
	// и перезапустит action вместо validate.
	if payload == nil {
		payload = map[string]any{}
	}

	// 1. Атомарно потребляем token
	cb, err := h.callbackRepo.Consume(r.Context(), token, payload)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			InvalidToken(w, "unknown callback token")
		case errors.Is(err, repo.ErrTokenConsumed):
			InvalidToken(w, "callback token already consumed")
		case errors.Is(err, repo.ErrInvalidState):
			InvalidToken(w, "callback token is no longer active")
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	// 2. Кладём payload процессу и будим его
	p, err := h.processRepo.StageCallback(r.Context(), cb.ProcessID, payload)
	if err != nil {
		// Token потреблён, но процесс уже не ждёт (гонка с abort)
		if errors.Is(err, repo.ErrInvalidState) {
			InvalidState(w, "process is no longer waiting on callback")
			return
		}
		HandleRepoError(w, h.logger, err, "process not found")
		return
	}

	h.publishWake(r, p.ID, mq.WakeCallback)

	Success(w, ProcessFromDomain(*p))
}

// GetCallback возвращает состояние callback-адреса: потреблён ли token
// и текущий транзиентный прогресс внешней операции.
// GET /api/v1/callbacks/{token}
func (h *Handler) GetCallback(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		InvalidToken(w, "malformed callback token")
		return
	}

	cb, err := h.callbackRepo.GetByToken(r.Context(), token)
	if HandleRepoError(w, h.logger, err, "unknown callback token") {
		return
	}

	Success(w, CallbackFromDomain(*cb))
}

// CallbackProgress принимает транзиентное обновление прогресса.
// POST /api/v1/callbacks/{token}/progress
//
// Прогресс не двигает процесс и не попадает в state; для неактивного
// token'а запрос — no-op.
func (h *Handler) CallbackProgress(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		InvalidToken(w, "malformed callback token")
		return
	}

	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.callbackRepo.SetProgress(r.Context(), token, req.Progress); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
