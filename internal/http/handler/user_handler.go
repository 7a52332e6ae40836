package handler

import (
	"net/http"

	"github.com/owlby/owlby-backend/internal/http/middleware"
	"github.com/owlby/owlby-backend/internal/http/response"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Me returns the account the verification middleware attached.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "user not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user": NewUserView(user)})
}
