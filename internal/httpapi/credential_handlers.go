package httpapi

import (
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/audit"
	"credvault.org/internal/wallet"
)

type importCredentialRequest struct {
	Title        string            `json:"title"`
	IssuerName   string            `json:"issuer_name"`
	IssuerDomain string            `json:"issuer_domain"`
	Subject      string            `json:"subject"`
	Category     string            `json:"category"`
	IssuedDate   time.Time         `json:"issued_date"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Payload      map[string]string `json:"payload"`
}

type listCredentialsResponse struct {
	Items []wallet.Credential `json:"items"`
	AsOf  time.Time           `json:"as_of"`
}

func (a *API) handleCredentialsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.importCredential(w, r)
	case http.MethodGet:
		a.listCredentials(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// POST {id}/trash дублирует обычный DELETE, оставлен для явных клиентов.
	if id, ok := strings.CutSuffix(path, "/trash"); ok {
		a.credentialAction(w, r, id, a.trashCredential)
		return
	}
	if id, ok := strings.CutSuffix(path, "/restore"); ok {
		a.credentialAction(w, r, id, a.restoreCredential)
		return
	}
	if id, ok := strings.CutSuffix(path, "/purge"); ok && id != "" {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.purgeCredential(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getCredential(w, r, path)
	case http.MethodDelete:
		// DELETE переносит в корзину; безвозвратное удаление только через /purge.
		a.trashCredential(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) credentialAction(w http.ResponseWriter, r *http.Request, id string, fn func(http.ResponseWriter, *http.Request, string)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if id == "" {
		writeError(w, r, http.StatusNotFound, "credential not found")
		return
	}
	fn(w, r, id)
}

func (a *API) importCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req importCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cred, err := a.wallet.ImportCredential(r.Context(), userID, wallet.Credential{
		Title:        strings.TrimSpace(req.Title),
		IssuerName:   strings.TrimSpace(req.IssuerName),
		IssuerDomain: strings.ToLower(strings.TrimSpace(req.IssuerDomain)),
		Subject:      strings.TrimSpace(req.Subject),
		Category:     strings.TrimSpace(req.Category),
		IssuedDate:   req.IssuedDate,
		ExpiresAt:    req.ExpiresAt,
		Payload:      req.Payload,
	})
	if err != nil {
		handleWalletError(w, r, err)
		return
	}

	a.audit(r.Context(), "credential.import", "credential", cred.ID, map[string]string{
		"issuer_domain": cred.IssuerDomain,
	})

	w.Header().Set("Location", "/v1/credentials/"+cred.ID)
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	items, err := a.wallet.ListCredentials(r.Context(), userID)
	if err != nil {
		handleWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listCredentialsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	cred, err := a.wallet.GetCredential(r.Context(), userID, id)
	if err != nil {
		handleWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// trashCredential soft-deletes; live shares of the credential stop resolving
// immediately because trashing revokes them.
func (a *API) trashCredential(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.wallet.TrashCredential(r.Context(), userID, id); err != nil {
		handleWalletError(w, r, err)
		return
	}
	_ = audit.LogSecurityEvent(r.Context(), "credential.trash", "credential", id, map[string]any{
		"actor": userID,
	}, audit.RiskMedium)
	writeJSON(w, http.StatusOK, map[string]any{"status": "trashed"})
}

func (a *API) restoreCredential(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.wallet.RestoreCredential(r.Context(), userID, id); err != nil {
		handleWalletError(w, r, err)
		return
	}
	a.audit(r.Context(), "credential.restore", "credential", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "active"})
}

func (a *API) purgeCredential(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.wallet.PurgeCredential(r.Context(), userID, id); err != nil {
		handleWalletError(w, r, err)
		return
	}
	_ = audit.LogSecurityEvent(r.Context(), "credential.purge", "credential", id, map[string]any{
		"actor": userID,
	}, audit.RiskHigh)
	w.WriteHeader(http.StatusNoContent)
}
