package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"didvault/internal/notify"
	dErrors "didvault/pkg/domain-errors"
	"didvault/pkg/platform/httputil"
)

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notices := h.vault.View().Notifications
	if notices == nil {
		notices = []notify.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": notices})
}

func (h *Handler) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	if !h.vault.Dismiss(chi.URLParam(r, "id")) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "notification not found or already expired"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
