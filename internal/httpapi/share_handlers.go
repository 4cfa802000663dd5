package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"credvault.org/internal/audit"
	"credvault.org/internal/obs"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

// Тело запроса принимается в двух формах: плоской snake_case и с вложенным
// policy-объектом в camelCase, который шлёт прежний клиент кошелька.
type createShareRequest struct {
	CredentialID    string                       `json:"credential_id"`
	CredID          string                       `json:"credId"`
	Preset          string                       `json:"preset"`
	SelectedFields  []string                     `json:"selected_fields"`
	FieldVisibility map[string]wallet.Visibility `json:"field_visibility"`
	Policy          *sharePolicyBody             `json:"policy"`
	ExpiresAt       time.Time                    `json:"expires_at"`
	ExpiresAtAlias  *time.Time                   `json:"expiresAt"`
	MaxViews        int                          `json:"max_views"`
	MaxViewsAlias   *int                         `json:"maxViews"`
	AccessCode      string                       `json:"access_code"`
	AccessCodeAlias string                       `json:"accessCode"`
}

type sharePolicyBody struct {
	Preset          string                       `json:"preset"`
	SelectedFields  []string                     `json:"selectedFields"`
	FieldVisibility map[string]wallet.Visibility `json:"fieldVisibility"`
}

// fold collapses the camelCase aliases into the canonical fields. Explicit
// snake_case values win when a client mixes the two.
func (req *createShareRequest) fold() {
	if req.CredentialID == "" {
		req.CredentialID = req.CredID
	}
	if p := req.Policy; p != nil {
		if req.Preset == "" {
			req.Preset = p.Preset
		}
		if req.SelectedFields == nil {
			req.SelectedFields = p.SelectedFields
		}
		if req.FieldVisibility == nil {
			req.FieldVisibility = p.FieldVisibility
		}
	}
	if req.ExpiresAt.IsZero() && req.ExpiresAtAlias != nil {
		req.ExpiresAt = *req.ExpiresAtAlias
	}
	if req.MaxViews == 0 && req.MaxViewsAlias != nil {
		req.MaxViews = *req.MaxViewsAlias
	}
	if req.AccessCode == "" {
		req.AccessCode = req.AccessCodeAlias
	}
}

type createShareResponse struct {
	wallet.Share
	URL string `json:"url"`
}

type listSharesResponse struct {
	Items []wallet.Share `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

type verifyRequest struct {
	AccessCode string `json:"access_code"`
}

func (a *API) handleSharesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createShare(w, r)
	case http.MethodGet:
		a.listShares(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleShareResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/shares/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/analytics"); ok && id != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.shareAnalytics(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/events"); ok && id != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.shareEvents(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		a.revokeShare(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) createShare(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}

	var req createShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.fold()

	credID := strings.TrimSpace(req.CredentialID)
	if credID == "" {
		writeError(w, r, http.StatusBadRequest, "credential_id is required")
		return
	}
	preset := wallet.Preset(strings.TrimSpace(req.Preset))
	switch preset {
	case wallet.PresetFull, wallet.PresetLite, wallet.PresetCustom:
	case "":
		preset = wallet.PresetFull
	default:
		writeError(w, r, http.StatusBadRequest, "unknown disclosure preset")
		return
	}

	share, err := a.wallet.CreateShare(r.Context(), userID, wallet.ShareRequest{
		CredentialID:    credID,
		Preset:          preset,
		SelectedFields:  req.SelectedFields,
		FieldVisibility: req.FieldVisibility,
		ExpiresAt:       req.ExpiresAt,
		MaxViews:        req.MaxViews,
		AccessCode:      req.AccessCode,
	})
	if err != nil {
		handleWalletError(w, r, err)
		return
	}

	obs.ShareCreated()
	a.audit(r.Context(), "share.create", "share", share.ID, map[string]string{
		"credential_id": credID,
		"preset":        string(preset),
		"max_views":     strconv.Itoa(share.MaxViews),
		"expires_at":    share.ExpiresAt.Format(time.RFC3339),
		"gated":         strconv.FormatBool(share.HasAccessCode()),
	})

	w.Header().Set("Location", "/v1/shares/"+share.ID)
	writeJSON(w, http.StatusCreated, createShareResponse{
		Share: share,
		URL:   a.baseURL + "/v/" + share.ID,
	})
}

func (a *API) listShares(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	items, err := a.wallet.ListShares(r.Context(), userID)
	if err != nil {
		handleWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listSharesResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) revokeShare(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if err := a.wallet.RevokeShare(r.Context(), userID, id); err != nil {
		handleWalletError(w, r, err)
		return
	}
	_ = audit.LogSecurityEvent(r.Context(), "share.revoke", "share", id, map[string]any{
		"actor": userID,
	}, audit.RiskMedium)
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) shareAnalytics(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	report, err := a.wallet.ShareAnalytics(r.Context(), userID, id)
	if err != nil {
		handleWalletError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleVerify is the public verification endpoint. The token is the path
// segment after /v/; an optional access code arrives in a POST body. The HTTP
// code distinguishes only what the verifier must act on: 404 when nothing
// resolves, 401 when a code is required or wrong, 200 otherwise with the
// terminal status in the body.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	// GET работает для ссылок без кода доступа; код передаётся только POST-ом.
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/v/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, r, http.StatusNotFound, "share not found")
		return
	}

	var req verifyRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	viewer := wallet.ViewerContext{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Country:   r.Header.Get("CF-IPCountry"),
		City:      r.Header.Get("CF-IPCity"),
		Referrer:  r.Header.Get("Referer"),
	}

	result, err := a.wallet.Verify(r.Context(), token, req.AccessCode, viewer)
	if err != nil {
		// fail closed: infrastructure trouble never discloses anything
		writeError(w, r, http.StatusInternalServerError, "verification unavailable")
		return
	}

	obs.ShareVerification(string(result.Status))
	a.auditVerification(r, token, result)
	a.publishView(token, viewer, result)

	switch result.Status {
	case wallet.StatusNotFound:
		writeJSON(w, http.StatusNotFound, result)
	case wallet.StatusInvalidCode:
		writeJSON(w, http.StatusUnauthorized, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (a *API) auditVerification(r *http.Request, token string, result wallet.VerificationResult) {
	risk := audit.RiskLow
	if result.Status == wallet.StatusInvalidCode {
		risk = audit.RiskMedium
	}
	meta := map[string]any{
		"status": string(result.Status),
	}
	if result.Cause != "" && result.Cause != string(result.Status) {
		meta["cause"] = result.Cause
	}
	if len(result.FraudFlags) > 0 {
		meta["fraud_flags"] = result.FraudFlags
		risk = audit.RiskHigh
	}
	_ = audit.LogSecurityEvent(r.Context(), "share.verify", "share", token, meta, risk)
}

func (a *API) publishView(token string, viewer wallet.ViewerContext, result wallet.VerificationResult) {
	if a.stream == nil {
		return
	}
	evt := stream.ViewEvent{
		ShareID:   token,
		Status:    string(result.Status),
		OK:        result.Status == wallet.StatusValid,
		Country:   viewer.Country,
		Timestamp: time.Now().UTC(),
	}
	if ref := viewer.Referrer; ref != "" {
		evt.ReferrerDomain = referrerHost(ref)
	}
	if result.Share != nil {
		evt.ViewsRemaining = result.Share.MaxViews - result.Share.Views
	}
	a.stream.Publish(evt)
}

func referrerHost(ref string) string {
	if i := strings.Index(ref, "://"); i >= 0 {
		ref = ref[i+3:]
	}
	if i := strings.IndexAny(ref, "/?#"); i >= 0 {
		ref = ref[:i]
	}
	return ref
}
