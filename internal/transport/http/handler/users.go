package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-qr-relay/internal/application/user"
	"github.com/go-qr-relay/internal/domain"
)

// UserHandler handles the sample create-user endpoint the demo signup form
// posts to.
type UserHandler struct {
	svc user.Service
}

func NewUserHandler(svc user.Service) *UserHandler { return &UserHandler{svc: svc} }

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	req := domain.CreateUserRequest{
		UserID:    chi.URLParam(r, "user_id"),
		Firstname: r.PostFormValue("firstname"),
		Password:  r.PostFormValue("password"),
	}
	resp, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
