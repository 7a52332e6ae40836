package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/response"
	"github.com/owlby/owlby-backend/internal/repository"
)

type LearningNodeHandler struct {
	nodes repository.LearningNodeRepository
}

func NewLearningNodeHandler(nodes repository.LearningNodeRepository) *LearningNodeHandler {
	return &LearningNodeHandler{nodes: nodes}
}

type learningNodeView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Difficulty string    `json:"difficulty"`
	Topic      string    `json:"topic"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newLearningNodeView(n *domain.LearningNode) learningNodeView {
	return learningNodeView{
		ID:         n.ID,
		Title:      n.Title,
		Content:    n.Content,
		Difficulty: n.Difficulty,
		Topic:      n.Topic,
		CreatedBy:  n.CreatedBy,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

type learningNodeRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
}

func (r learningNodeRequest) complete() bool {
	return r.Title != "" && r.Content != "" && r.Difficulty != "" && r.Topic != ""
}

func (h *LearningNodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "user not found", nil)
		return
	}
	var req learningNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.complete() {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "title, content, difficulty and topic are required", nil)
		return
	}
	node := &domain.LearningNode{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Content:    req.Content,
		Difficulty: req.Difficulty,
		Topic:      req.Topic,
		CreatedBy:  user.ID,
	}
	if err := h.nodes.Create(r.Context(), node); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, newLearningNodeView(node))
}

func (h *LearningNodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	node, err := h.nodes.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrLearningNodeNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "learning node not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, newLearningNodeView(node))
}

func (h *LearningNodeHandler) List(w http.ResponseWriter, r *http.Request) {
	page := repository.PageRequest{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.nodes.ListByTopic(r.Context(), r.URL.Query().Get("topic"), page)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	views := make([]learningNodeView, 0, len(result.Items))
	for i := range result.Items {
		views = append(views, newLearningNodeView(&result.Items[i]))
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"nodes": views,
		"pagination": map[string]any{
			"page":        result.Page,
			"page_size":   result.PageSize,
			"total_items": result.TotalItems,
			"total_pages": result.TotalPages,
		},
	})
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func (h *LearningNodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	node, err := h.nodes.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrLearningNodeNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "learning node not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	var req learningNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	if req.Title != "" {
		node.Title = req.Title
	}
	if req.Content != "" {
		node.Content = req.Content
	}
	if req.Difficulty != "" {
		node.Difficulty = req.Difficulty
	}
	if req.Topic != "" {
		node.Topic = req.Topic
	}
	if err := h.nodes.Update(r.Context(), node); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, newLearningNodeView(node))
}

func (h *LearningNodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, repository.ErrLearningNodeNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "learning node not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Deleted"})
}
