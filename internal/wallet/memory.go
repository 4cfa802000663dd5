package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. The mutex
// spans the whole verify path, so the check-and-increment on the view counter
// is atomic; the Postgres store gets the same guarantee from a conditional
// UPDATE instead.
type InMemory struct {
	// Limiter, when set, gates share issuance per user. Nil disables the check.
	Limiter RateLimiter

	mu          sync.RWMutex
	credentials map[string]*Credential
	shares      map[string]*Share
	views       map[string][]ShareView
	nextViewID  int64
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty wallet store.
func NewInMemory() *InMemory {
	return &InMemory{
		credentials: make(map[string]*Credential),
		shares:      make(map[string]*Share),
		views:       make(map[string][]ShareView),
	}
}

func (s *InMemory) ImportCredential(ctx context.Context, userID string, cred Credential) (Credential, error) {
	if strings.TrimSpace(userID) == "" {
		return Credential{}, ErrNotFound
	}
	if strings.TrimSpace(cred.Title) == "" || strings.TrimSpace(cred.IssuerName) == "" {
		return Credential{}, fmt.Errorf("%w: title and issuer_name are required", ErrInvalidFieldName)
	}
	for field := range cred.Payload {
		if err := ValidateFieldName(field); err != nil {
			return Credential{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cred.ID = ids.New()
	cred.UserID = userID
	if cred.Status == "" {
		cred.Status = CredentialValid
	}
	cred.Payload = copyPayload(cred.Payload)
	cred.DeletedAt = nil
	cred.CreatedAt = now
	cred.UpdatedAt = now
	s.credentials[cred.ID] = &cred
	return cred, nil
}

func (s *InMemory) GetCredential(ctx context.Context, userID, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, err := s.ownedCredential(userID, id)
	if err != nil {
		return Credential{}, err
	}
	out := *cred
	out.Payload = copyPayload(cred.Payload)
	return out, nil
}

func (s *InMemory) ListCredentials(ctx context.Context, userID string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Credential
	for _, cred := range s.credentials {
		if cred.UserID != userID || cred.Trashed() {
			continue
		}
		out := *cred
		out.Payload = copyPayload(cred.Payload)
		res = append(res, out)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) TrashCredential(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, err := s.ownedCredential(userID, id)
	if err != nil {
		return err
	}
	if cred.Trashed() {
		return ErrNotFound
	}
	now := time.Now().UTC()
	cred.DeletedAt = &now
	cred.UpdatedAt = now
	// Deleting a credential implies revoking every live share over it.
	for _, share := range s.shares {
		if share.CredentialID == id && !share.Revoked {
			share.Revoked = true
			share.UpdatedAt = now
		}
	}
	return nil
}

func (s *InMemory) RestoreCredential(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, err := s.ownedCredential(userID, id)
	if err != nil {
		return err
	}
	if !cred.Trashed() {
		return ErrNotFound
	}
	cred.DeletedAt = nil
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) PurgeCredential(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ownedCredential(userID, id); err != nil {
		return err
	}
	delete(s.credentials, id)
	for shareID, share := range s.shares {
		if share.CredentialID == id {
			delete(s.shares, shareID)
			delete(s.views, shareID)
		}
	}
	return nil
}

func (s *InMemory) CreateShare(ctx context.Context, userID string, req ShareRequest) (Share, error) {
	if s.Limiter != nil && !s.Limiter.Allow(userID, EndpointCreateShare) {
		return Share{}, ErrRateLimited
	}
	now := time.Now().UTC()
	if err := ValidateShareRequest(req, now); err != nil {
		return Share{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.ownedCredential(userID, req.CredentialID)
	if err != nil {
		return Share{}, err
	}
	if cred.Trashed() {
		return Share{}, ErrNotFound
	}
	policy, err := BuildRequestPolicy(req, cred.Payload)
	if err != nil {
		return Share{}, err
	}

	var codeHash string
	if req.AccessCode != "" {
		codeHash, err = auth.HashAccessCode(strings.TrimSpace(req.AccessCode))
		if err != nil {
			return Share{}, err
		}
	}

	share := &Share{
		ID:             ids.NewShareToken(),
		UserID:         userID,
		CredentialID:   cred.ID,
		Policy:         policy,
		ExpiresAt:      req.ExpiresAt.UTC(),
		MaxViews:       req.MaxViews,
		Views:          0,
		AccessCodeHash: codeHash,
		Revoked:        false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.shares[share.ID] = share
	return *share, nil
}

func (s *InMemory) ListShares(ctx context.Context, userID string) ([]Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Share
	for _, share := range s.shares {
		if share.UserID == userID {
			res = append(res, *share)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *InMemory) RevokeShare(ctx context.Context, userID, shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	share, ok := s.shares[shareID]
	if !ok || share.UserID != userID {
		return ErrNotFound
	}
	if !share.Revoked {
		share.Revoked = true
		share.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Verify runs the verification state machine. Checks run in a fixed order so
// a verifier cannot learn more than the first failing condition permits:
// existence, revocation, expiry, view budget, access code. A wrong access
// code never consumes a view; view exhaustion is reported as expired.
func (s *InMemory) Verify(ctx context.Context, shareID, accessCode string, viewer ViewerContext) (VerificationResult, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	share, ok := s.shares[shareID]
	if !ok {
		s.recordView(AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return TerminalResult(StatusNotFound, false, now), nil
	}
	if share.Revoked {
		s.recordView(AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return TerminalResult(StatusRevoked, false, now), nil
	}
	if !now.Before(share.ExpiresAt) {
		s.recordView(AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return TerminalResult(StatusExpired, false, now), nil
	}
	if share.Views >= share.MaxViews {
		// Reported as expired so verifiers cannot tell exhaustion from
		// time-expiry; Cause keeps the precise reason for internal logs.
		res := TerminalResult(StatusExpired, false, now)
		res.Cause = CauseViewsExhausted
		s.recordView(AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return res, nil
	}
	if share.HasAccessCode() {
		if accessCode == "" || auth.VerifyAccessCode(share.AccessCodeHash, accessCode) != nil {
			s.recordView(AnonymizeViewer(shareID, viewer, false, true, now))
			return TerminalResult(StatusInvalidCode, true, now), nil
		}
	}

	cred, ok := s.credentials[share.CredentialID]
	if !ok || cred.Trashed() {
		s.recordView(AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return TerminalResult(StatusNotFound, false, now), nil
	}

	share.Views++
	share.UpdatedAt = now
	s.recordView(AnonymizeViewer(shareID, viewer, true, accessCode != "", now))
	return SuccessResult(*share, *cred, now), nil
}

func (s *InMemory) ShareAnalytics(ctx context.Context, userID, shareID string) (AnalyticsReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	share, ok := s.shares[shareID]
	if !ok || share.UserID != userID {
		return AnalyticsReport{}, ErrNotFound
	}
	report := NewAnalyticsReport(*share)
	rows := s.views[shareID]
	for i := len(rows) - 1; i >= 0; i-- {
		report.Observe(rows[i])
	}
	return report, nil
}

// recordView appends the analytics row. Callers hold the write lock.
func (s *InMemory) recordView(v ShareView) {
	s.nextViewID++
	v.ID = s.nextViewID
	s.views[v.ShareID] = append(s.views[v.ShareID], v)
}

func (s *InMemory) ownedCredential(userID, id string) (*Credential, error) {
	cred, ok := s.credentials[id]
	// Ownership failures and missing credentials are indistinguishable so
	// callers cannot probe which ids exist.
	if !ok || cred.UserID != userID {
		return nil, ErrNotFound
	}
	return cred, nil
}

func copyPayload(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
