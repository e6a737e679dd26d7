package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/identity/did"
	"didvault/internal/wallet"
	dErrors "didvault/pkg/domain-errors"
	"didvault/pkg/platform/httputil"
	"didvault/pkg/platform/sentinel"
	"didvault/pkg/requestcontext"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type recordResponse struct {
	ID          models.CredentialID `json:"id"`
	Subject     did.DID             `json:"subject"`
	Issuer      did.DID             `json:"issuer"`
	Types       []string            `json:"types"`
	IssuedAt    time.Time           `json:"issuedAt"`
	Fingerprint string              `json:"fingerprint"`
	Anchor      *models.Anchor      `json:"anchor,omitempty"`
	Credential  json.RawMessage     `json:"credential"`
}

func toRecordResponse(r models.Record) recordResponse {
	return recordResponse{
		ID:          r.ID,
		Subject:     r.Subject,
		Issuer:      r.Issuer,
		Types:       r.Types,
		IssuedAt:    r.IssuedAt,
		Fingerprint: r.Fingerprint,
		Anchor:      r.Anchor,
		Credential:  r.Document,
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential, err := h.vault.Issue(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "credential issuance failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, credential)
}

// handleVerify always answers 200; the outcome is in the result body.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// One byte past the cap so the verifier reports the oversize document.
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body"))
		return
	}
	result := h.vault.Verify(ctx, string(body))
	h.logger.InfoContext(ctx, "credential verification",
		"valid", result.Valid,
		"reason", result.Reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	if h.credentials == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "credential store is not configured"))
		return
	}
	id, err := models.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "credential id must be a uuid"))
		return
	}
	record, err := h.credentials.FindByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

// handleListCredentials lists credentials for ?subject= or, without it, for
// the connected wallet.
func (h *Handler) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if h.credentials == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"credentials": []recordResponse{}})
		return
	}
	subject, err := h.subjectFor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.credentials.ListBySubject(r.Context(), subject, limit)
	if err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

func (h *Handler) subjectFor(r *http.Request) (did.DID, error) {
	if raw := r.URL.Query().Get("subject"); raw != "" {
		parsed, err := did.Parse(raw)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "subject must be a did:ethr DID")
		}
		if parsed.Network != "" {
			return parsed.DID, nil
		}
		return did.Derive(parsed.Address), nil
	}
	snap := h.vault.View().Session
	if !snap.Connected() {
		return "", wallet.ErrNotConnected
	}
	return snap.DID, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "credential not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential store failed")
	}
}
