package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedCredential(t *testing.T, s *InMemory, userID string) Credential {
	t.Helper()
	cred, err := s.ImportCredential(context.Background(), userID, Credential{
		Title:        "BSc Computer Science",
		IssuerName:   "MIT",
		IssuerDomain: "mit.edu",
		IssuedDate:   time.Now().UTC().AddDate(-1, 0, 0),
		Payload: map[string]string{
			"student_name": "Alice Johnson",
			"degree":       "BSc Computer Science",
			"email":        "alice@example.edu",
			"gpa":          "3.9",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return cred
}

func seedShare(t *testing.T, s *InMemory, userID string, req ShareRequest) Share {
	t.Helper()
	share, err := s.CreateShare(context.Background(), userID, req)
	if err != nil {
		t.Fatal(err)
	}
	return share
}

func shareRequest(credID string) ShareRequest {
	return ShareRequest{
		CredentialID: credID,
		Preset:       PresetFull,
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		MaxViews:     3,
	}
}

func TestImportValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.ImportCredential(ctx, "alice", Credential{IssuerName: "MIT"}); err == nil {
		t.Fatal("expected error for missing title")
	}
	if _, err := s.ImportCredential(ctx, "alice", Credential{
		Title:      "Cert",
		IssuerName: "MIT",
		Payload:    map[string]string{"<script>": "x"},
	}); !errors.Is(err, ErrInvalidFieldName) {
		t.Fatalf("expected ErrInvalidFieldName, got %v", err)
	}
}

func TestOwnershipIndistinguishableFromMissing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")

	_, errForeign := s.GetCredential(ctx, "mallory", cred.ID)
	_, errMissing := s.GetCredential(ctx, "mallory", "no-such-id")
	if !errors.Is(errForeign, ErrNotFound) || !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for both, got %v / %v", errForeign, errMissing)
	}
}

func TestTrashRevokesLiveShares(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	share := seedShare(t, s, "alice", shareRequest(cred.ID))

	if err := s.TrashCredential(ctx, "alice", cred.ID); err != nil {
		t.Fatal(err)
	}

	res, err := s.Verify(ctx, share.ID, "", ViewerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRevoked {
		t.Fatalf("expected revoked after trash, got %q", res.Status)
	}

	// Trashed credentials disappear from lists but restore brings the
	// credential back; its shares stay revoked.
	list, _ := s.ListCredentials(ctx, "alice")
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d items", len(list))
	}
	if err := s.RestoreCredential(ctx, "alice", cred.ID); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Verify(ctx, share.ID, "", ViewerContext{})
	if res.Status != StatusRevoked {
		t.Fatalf("restore must not resurrect revoked shares, got %q", res.Status)
	}

	// New shares over the restored credential work.
	if _, err := s.CreateShare(ctx, "alice", shareRequest(cred.ID)); err != nil {
		t.Fatal(err)
	}
}

func TestPurgeRemovesSharesAndViews(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	share := seedShare(t, s, "alice", shareRequest(cred.ID))
	_, _ = s.Verify(ctx, share.ID, "", ViewerContext{})

	if err := s.PurgeCredential(ctx, "alice", cred.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ShareAnalytics(ctx, "alice", share.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected analytics gone after purge, got %v", err)
	}
	res, _ := s.Verify(ctx, share.ID, "", ViewerContext{})
	if res.Status != StatusNotFound {
		t.Fatalf("expected not_found after purge, got %q", res.Status)
	}
}

func TestCreateShareValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")

	cases := []struct {
		name string
		req  ShareRequest
		want error
	}{
		{
			name: "past expiry",
			req: ShareRequest{
				CredentialID: cred.ID,
				ExpiresAt:    time.Now().UTC().Add(-time.Minute),
				MaxViews:     3,
			},
			want: ErrInvalidExpiry,
		},
		{
			name: "expiry beyond horizon",
			req: ShareRequest{
				CredentialID: cred.ID,
				ExpiresAt:    time.Now().UTC().Add(MaxExpiryHorizon + time.Hour),
				MaxViews:     3,
			},
			want: ErrInvalidExpiry,
		},
		{
			name: "zero views",
			req: ShareRequest{
				CredentialID: cred.ID,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
				MaxViews:     0,
			},
			want: ErrInvalidViewLimit,
		},
		{
			name: "views above ceiling",
			req: ShareRequest{
				CredentialID: cred.ID,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
				MaxViews:     MaxViewCeiling + 1,
			},
			want: ErrInvalidViewLimit,
		},
		{
			name: "short access code",
			req: ShareRequest{
				CredentialID: cred.ID,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
				MaxViews:     3,
				AccessCode:   "ab",
			},
			want: ErrWeakAccessCode,
		},
		{
			name: "unknown credential",
			req: ShareRequest{
				CredentialID: "missing",
				Preset:       PresetFull,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
				MaxViews:     3,
			},
			want: ErrNotFound,
		},
		{
			name: "custom preset disclosing nothing",
			req: ShareRequest{
				CredentialID: cred.ID,
				Preset:       PresetCustom,
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
				MaxViews:     3,
			},
			want: ErrEmptyDisclosure,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateShare(ctx, "alice", tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(userID, endpoint string) bool { return false }

func TestCreateShareRateLimited(t *testing.T) {
	s := NewInMemory()
	s.Limiter = denyAllLimiter{}
	cred := seedCredential(t, s, "alice")

	if _, err := s.CreateShare(context.Background(), "alice", shareRequest(cred.ID)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestVerifyCheckOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")

	// Revoked wins over expired: revoke a share, then let it expire.
	req := shareRequest(cred.ID)
	req.ExpiresAt = time.Now().UTC().Add(50 * time.Millisecond)
	share := seedShare(t, s, "alice", req)
	if err := s.RevokeShare(ctx, "alice", share.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	res, err := s.Verify(ctx, share.ID, "", ViewerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRevoked {
		t.Fatalf("revocation must be checked before expiry, got %q", res.Status)
	}
}

func TestVerifyExhaustionReportedAsExpired(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	req := shareRequest(cred.ID)
	req.MaxViews = 1
	share := seedShare(t, s, "alice", req)

	res, _ := s.Verify(ctx, share.ID, "", ViewerContext{})
	if res.Status != StatusValid {
		t.Fatalf("first view should succeed, got %q", res.Status)
	}
	res, _ = s.Verify(ctx, share.ID, "", ViewerContext{})
	if res.Status != StatusExpired {
		t.Fatalf("exhausted share must report expired, got %q", res.Status)
	}
	if res.Cause != CauseViewsExhausted {
		t.Fatalf("expected internal cause %q, got %q", CauseViewsExhausted, res.Cause)
	}
	if res.Credential != nil || res.Share != nil {
		t.Fatal("terminal result must not disclose credential or share details")
	}
}

func TestVerifyAccessCode(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	req := shareRequest(cred.ID)
	req.AccessCode = "open-sesame"
	share := seedShare(t, s, "alice", req)

	// Wrong and missing codes never consume a view.
	for _, code := range []string{"", "wrong"} {
		res, err := s.Verify(ctx, share.ID, code, ViewerContext{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusInvalidCode || !res.RequiresAccessCode {
			t.Fatalf("expected invalid_code with requiresAccessCode, got %+v", res)
		}
	}

	res, err := s.Verify(ctx, share.ID, "open-sesame", ViewerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusValid {
		t.Fatalf("expected valid with correct code, got %q", res.Status)
	}
	if res.Share.Views != 1 {
		t.Fatalf("failed attempts consumed views: %d", res.Share.Views)
	}

	report, err := s.ShareAnalytics(ctx, "alice", share.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Views != 1 {
		t.Fatalf("expected one consumed view, got %d", report.Views)
	}
	// All three attempts leave analytics rows, two flagged as code attempts.
	if len(report.Recent) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(report.Recent))
	}
}

func TestVerifyPolicyFiltering(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	share := seedShare(t, s, "alice", ShareRequest{
		CredentialID: cred.ID,
		Preset:       PresetCustom,
		FieldVisibility: map[string]Visibility{
			"degree": VisibilityVisible,
			"email":  VisibilityMasked,
		},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		MaxViews:  3,
	})

	res, err := s.Verify(ctx, share.ID, "", ViewerContext{})
	if err != nil {
		t.Fatal(err)
	}
	payload := res.Credential.Payload
	if payload["degree"] != "BSc Computer Science" {
		t.Fatalf("visible field altered: %q", payload["degree"])
	}
	if payload["email"] == "alice@example.edu" || payload["email"] == "" {
		t.Fatalf("masked field not masked: %q", payload["email"])
	}
	if _, ok := payload["gpa"]; ok {
		t.Fatal("hidden field leaked")
	}
	if _, ok := payload["student_name"]; ok {
		t.Fatal("unlisted field must default to hidden under custom preset")
	}
	if !res.IssuerTrusted {
		t.Fatal("expected mit.edu to be trusted")
	}
}

func TestConcurrentVerifyNeverOversells(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	req := shareRequest(cred.ID)
	req.MaxViews = 5
	share := seedShare(t, s, "alice", req)

	var wg sync.WaitGroup
	var mu sync.Mutex
	valid := 0
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Verify(ctx, share.ID, "", ViewerContext{})
			if err != nil {
				return
			}
			if res.Status == StatusValid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if valid != 5 {
		t.Fatalf("expected exactly 5 successful views, got %d", valid)
	}
	report, _ := s.ShareAnalytics(ctx, "alice", share.ID)
	if report.Views != 5 || report.ViewsRemaining != 0 {
		t.Fatalf("counter drifted: views=%d remaining=%d", report.Views, report.ViewsRemaining)
	}
}

func TestAnalyticsAggregation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cred := seedCredential(t, s, "alice")
	share := seedShare(t, s, "alice", shareRequest(cred.ID))

	viewers := []ViewerContext{
		{IP: "203.0.113.7", UserAgent: "UA-1", Country: "IN", Referrer: "https://linkedin.com/in/alice"},
		{IP: "198.51.100.2", UserAgent: "UA-2", Country: "US", Referrer: "https://linkedin.com/jobs"},
		{IP: "203.0.113.7", UserAgent: "UA-1", Country: "IN"},
	}
	for _, v := range viewers {
		if _, err := s.Verify(ctx, share.ID, "", v); err != nil {
			t.Fatal(err)
		}
	}

	report, err := s.ShareAnalytics(ctx, "alice", share.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Countries["IN"] != 2 || report.Countries["US"] != 1 {
		t.Fatalf("unexpected country histogram: %v", report.Countries)
	}
	if report.Referrers["linkedin.com"] != 2 {
		t.Fatalf("unexpected referrer histogram: %v", report.Referrers)
	}
	for _, v := range report.Recent {
		if v.IPHash == "203.0.113.7" || v.UAHash == "UA-1" {
			t.Fatal("raw viewer data leaked into analytics")
		}
		if len(v.IPHash) != 8 {
			t.Fatalf("unexpected ip hash length: %q", v.IPHash)
		}
	}
	// Recent rows arrive newest first.
	if len(report.Recent) != 3 {
		t.Fatalf("expected 3 recent rows, got %d", len(report.Recent))
	}
	if !report.Recent[0].ViewedAt.After(report.Recent[2].ViewedAt.Add(-time.Second)) {
		t.Fatal("recent rows not ordered newest first")
	}

	if _, err := s.ShareAnalytics(ctx, "mallory", share.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign analytics must be not found, got %v", err)
	}
}
