package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// CreateSubject создаёт новый subject в состоянии INITIAL.
// POST /api/v1/subjects
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	subject := &domain.Subject{
		ID:        uuid.New(),
		Name:      req.Name,
		State:     domain.SubjectInitial,
		InSync:    true,
		Config:    req.Config,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if subject.Config == nil {
		subject.Config = make(map[string]any)
	}

	if err := h.subjectRepo.Create(r.Context(), subject); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, SubjectFromDomain(*subject))
}

// GetSubject возвращает subject по ID.
// GET /api/v1/subjects/{id}
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid subject id")
		return
	}

	subject, err := h.subjectRepo.Load(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "subject not found") {
		return
	}

	Success(w, SubjectFromDomain(*subject))
}

// ListSubjects возвращает список subject'ов.
// GET /api/v1/subjects?limit=...&offset=...
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit = int(mustParseInt(limitStr, 50))
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset = int(mustParseInt(offsetStr, 0))
	}

	subjects, err := h.subjectRepo.List(r.Context(), limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]SubjectResponse, len(subjects))
	for i, s := range subjects {
		result[i] = SubjectFromDomain(s)
	}

	List(w, result, len(result))
}
