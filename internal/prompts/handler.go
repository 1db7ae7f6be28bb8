package prompts

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/printcraft/printcraft/internal/api"
)

type Lister interface {
	ListActive(ctx context.Context) ([]*Prompt, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns the active prompt catalogue. Prompt text stays server-side.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListActive(r.Context())
	if err != nil {
		slog.Error("listing prompts", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, list)
}
