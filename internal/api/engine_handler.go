package api

import (
	"errors"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// GetEngine возвращает текущее состояние движка.
// GET /api/v1/engine
func (h *Handler) GetEngine(w http.ResponseWriter, r *http.Request) {
	state, err := h.engineRepo.Get(r.Context())
	if HandleRepoError(w, h.logger, err, "engine state not initialized") {
		return
	}

	Success(w, EngineResponse{State: state})
}

// PauseEngine переводит движок в PAUSING.
// POST /api/v1/engine/pause
//
// Пауза асинхронная: новые процессы перестают стартовать сразу,
// выполняющиеся дорабатывают текущий шаг; PAUSED наступит, когда
// RUNNING-процессов не останется. Повторная пауза идемпотентна.
func (h *Handler) PauseEngine(w http.ResponseWriter, r *http.Request) {
	err := h.engineRepo.Transition(r.Context(), domain.EngineRunning, domain.EnginePausing)
	if err != nil && !errors.Is(err, repo.ErrInvalidState) {
		InternalError(w, h.logger, err)
		return
	}

	state, err := h.engineRepo.Get(r.Context())
	if HandleRepoError(w, h.logger, err, "engine state not initialized") {
		return
	}

	h.logger.Info("engine pause requested", "state", state)
	Success(w, EngineResponse{State: state})
}

// ResumeEngine возвращает движок в RUNNING.
// POST /api/v1/engine/resume
//
// Запаркованные паузой процессы будятся явно, не дожидаясь polling'а.
func (h *Handler) ResumeEngine(w http.ResponseWriter, r *http.Request) {
	resumed := false
	for _, from := range []domain.EngineState{domain.EnginePaused, domain.EnginePausing} {
		err := h.engineRepo.Transition(r.Context(), from, domain.EngineRunning)
		if err == nil {
			resumed = true
			break
		}
		if !errors.Is(err, repo.ErrInvalidState) {
			InternalError(w, h.logger, err)
			return
		}
	}

	if resumed {
		h.wakeParked(r)
	}

	state, err := h.engineRepo.Get(r.Context())
	if HandleRepoError(w, h.logger, err, "engine state not initialized") {
		return
	}

	h.logger.Info("engine resumed", "state", state)
	Success(w, EngineResponse{State: state})
}

// wakeParked публикует пробуждения для процессов, готовых к выполнению.
func (h *Handler) wakeParked(r *http.Request) {
	if h.publisher == nil {
		return
	}

	ready, err := h.processRepo.ListReady(r.Context(), 100)
	if err != nil {
		h.logger.Warn("failed to list parked processes", "error", err)
		return
	}

	for i := range ready {
		h.publishWake(r, ready[i].ID, mq.WakeUnpause)
	}
}
