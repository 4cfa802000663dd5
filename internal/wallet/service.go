package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Issuance bounds. Expiry may not exceed the horizon, view limits may not
// exceed the ceiling, access codes must carry at least minAccessCodeLen
// characters after trimming.
const (
	MaxExpiryHorizon = 7 * 24 * time.Hour
	MaxViewCeiling   = 1000

	minAccessCodeLen = 4
)

// Service defines the wallet core: credential storage, share issuance and
// the verification engine.
type Service interface {
	ImportCredential(ctx context.Context, userID string, cred Credential) (Credential, error)
	GetCredential(ctx context.Context, userID, id string) (Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	TrashCredential(ctx context.Context, userID, id string) error
	RestoreCredential(ctx context.Context, userID, id string) error
	PurgeCredential(ctx context.Context, userID, id string) error

	CreateShare(ctx context.Context, userID string, req ShareRequest) (Share, error)
	ListShares(ctx context.Context, userID string) ([]Share, error)
	RevokeShare(ctx context.Context, userID, shareID string) error

	Verify(ctx context.Context, shareID, accessCode string, viewer ViewerContext) (VerificationResult, error)

	ShareAnalytics(ctx context.Context, userID, shareID string) (AnalyticsReport, error)
}

// RateLimiter is the external per-user issuance limit collaborator.
type RateLimiter interface {
	Allow(userID, endpoint string) bool
}

// EndpointCreateShare keys the issuance rate limit.
const EndpointCreateShare = "create_share"

// ValidateShareRequest runs the fail-fast issuance checks that do not touch
// storage. Ownership is checked separately by the store.
func ValidateShareRequest(req ShareRequest, now time.Time) error {
	if !req.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidExpiry)
	}
	if req.ExpiresAt.After(now.Add(MaxExpiryHorizon)) {
		return fmt.Errorf("%w: expiry exceeds maximum horizon", ErrInvalidExpiry)
	}
	if req.MaxViews < 1 || req.MaxViews > MaxViewCeiling {
		return fmt.Errorf("%w: max_views must be between 1 and %d", ErrInvalidViewLimit, MaxViewCeiling)
	}
	if req.AccessCode != "" && len(strings.TrimSpace(req.AccessCode)) < minAccessCodeLen {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakAccessCode, minAccessCodeLen)
	}
	return nil
}

// BuildRequestPolicy assembles the disclosure policy for a share request.
// Selected fields without an explicit visibility override become visible,
// matching how the share dialog submits custom selections.
func BuildRequestPolicy(req ShareRequest, payload map[string]string) (DisclosurePolicy, error) {
	overrides := make(map[string]Visibility, len(req.FieldVisibility)+len(req.SelectedFields))
	for f, v := range req.FieldVisibility {
		overrides[f] = v
	}
	for _, f := range req.SelectedFields {
		if err := ValidateFieldName(f); err != nil {
			return DisclosurePolicy{}, err
		}
		if _, ok := overrides[f]; !ok {
			overrides[f] = VisibilityVisible
		}
	}
	return BuildPolicy(req.Preset, payloadFields(payload), overrides)
}

func payloadFields(payload map[string]string) []string {
	fields := make([]string, 0, len(payload))
	for f := range payload {
		fields = append(fields, f)
	}
	return fields
}

// SuccessResult assembles the disclosure returned to a verifier once a view
// has been consumed. The share must already carry the incremented counter.
func SuccessResult(share Share, cred Credential, now time.Time) VerificationResult {
	return VerificationResult{
		Status: StatusValid,
		Credential: &DisclosedCredential{
			Title:        cred.Title,
			IssuerName:   cred.IssuerName,
			IssuerDomain: cred.IssuerDomain,
			IssuedDate:   cred.IssuedDate,
			ExpiresAt:    cred.ExpiresAt,
			Payload:      share.Policy.Apply(cred.Payload),
		},
		Share: &ShareSummary{
			CreatedAt: share.CreatedAt,
			Views:     share.Views,
			MaxViews:  share.MaxViews,
			ExpiresAt: share.ExpiresAt,
			Policy:    share.Policy,
		},
		IssuerTrusted: IssuerTrusted(cred.IssuerDomain),
		FraudFlags:    fraudFlags(share),
		CheckedAt:     now,
	}
}

// TerminalResult is the failure envelope: status only, never payload or
// policy internals.
func TerminalResult(status VerificationStatus, requiresCode bool, now time.Time) VerificationResult {
	return VerificationResult{
		Status:             status,
		RequiresAccessCode: requiresCode,
		CheckedAt:          now,
	}
}
