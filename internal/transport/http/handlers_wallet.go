package httptransport

import (
	"net/http"

	"github.com/skip2/go-qrcode"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/notify"
	"didvault/internal/vault"
	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
	"didvault/pkg/platform/httputil"
	"didvault/pkg/requestcontext"
)

const qrSize = 256

type sessionResponse struct {
	State   string `json:"state"`
	Account string `json:"account,omitempty"`
	DID     string `json:"did,omitempty"`
	ChainID string `json:"chainId,omitempty"`
	ChainOK bool   `json:"chainOk"`
	Error   string `json:"error,omitempty"`
}

type networkResponse struct {
	ChainID   string `json:"chainId"`
	ChainName string `json:"chainName"`
}

type viewResponse struct {
	Session          sessionResponse       `json:"session"`
	Network          networkResponse       `json:"network"`
	LastIssued       *models.Credential    `json:"lastIssued,omitempty"`
	LastVerification *models.Result        `json:"lastVerification,omitempty"`
	Notifications    []notify.Notification `json:"notifications"`
}

func toSessionResponse(snap wallet.Snapshot) sessionResponse {
	resp := sessionResponse{
		State:   snap.State.String(),
		ChainID: snap.ChainID,
		ChainOK: snap.ChainOK,
	}
	if snap.Connected() {
		resp.Account = snap.Account.Hex()
		resp.DID = snap.DID.String()
	}
	if snap.Cause != nil {
		resp.Error = dErrors.MessageOf(snap.Cause)
	}
	return resp
}

func toViewResponse(v vault.View) viewResponse {
	notices := v.Notifications
	if notices == nil {
		notices = []notify.Notification{}
	}
	return viewResponse{
		Session:          toSessionResponse(v.Session),
		Network:          networkResponse{ChainID: v.Network.ChainID, ChainName: v.Network.ChainName},
		LastIssued:       v.LastIssued,
		LastVerification: v.LastVerification,
		Notifications:    notices,
	}
}

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, toViewResponse(h.vault.View()))
}

// handleConnect prompts the wallet for an account. A network switch failure
// still answers 200: the session is connected and the view carries ChainOK.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.vault.Connect(ctx); err != nil {
		h.logger.WarnContext(ctx, "wallet connect failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toViewResponse(h.vault.View()))
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.vault.Disconnect(r.Context())
	httputil.WriteJSON(w, http.StatusOK, toViewResponse(h.vault.View()))
}

func (h *Handler) handleEnsureNetwork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.vault.EnsureNetwork(ctx); err != nil {
		h.logger.WarnContext(ctx, "network switch failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toViewResponse(h.vault.View()))
}

// handleDIDQRCode renders the connected DID as a PNG QR code.
func (h *Handler) handleDIDQRCode(w http.ResponseWriter, r *http.Request) {
	snap := h.vault.View().Session
	if !snap.Connected() {
		httputil.WriteError(w, wallet.ErrNotConnected)
		return
	}
	png, err := qrcode.Encode(snap.DID.String(), qrcode.Medium, qrSize)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "qr encode failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render qr code"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
