package remote

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/httpapi"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

func TestClientAgainstLiveAPI(t *testing.T) {
	t.Setenv("CREDVAULT_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	api := httpapi.New(httpapi.ReadyProbe{}, "test", wallet.NewInMemory(), stream.New(), "https://vault.test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := New(srv.URL, WithHTTPClient(srv.Client()))

	if err := client.Authenticate(ctx, "smoke"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	cred, err := client.ImportCredential(ctx, ImportCredentialRequest{
		Title:      "BSc Computer Science",
		IssuerName: "MIT",
		IssuedDate: time.Now().UTC().AddDate(-1, 0, 0),
		Payload:    map[string]string{"degree": "BSc Computer Science"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	share, err := client.CreateShare(ctx, CreateShareRequest{
		CredentialID: cred.ID,
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		MaxViews:     2,
	})
	if err != nil {
		t.Fatalf("create share: %v", err)
	}
	if share.URL == "" {
		t.Fatal("expected share url")
	}

	res, err := client.Verify(ctx, share.ID, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != wallet.StatusValid {
		t.Fatalf("unexpected status: %q", res.Status)
	}

	report, err := client.ShareAnalytics(ctx, share.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if report.Views != 1 {
		t.Fatalf("unexpected views: %d", report.Views)
	}

	if err := client.RevokeShare(ctx, share.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	res, err = client.Verify(ctx, share.ID, "")
	if err != nil {
		t.Fatalf("verify after revoke: %v", err)
	}
	if res.Status != wallet.StatusRevoked {
		t.Fatalf("expected revoked, got %q", res.Status)
	}
}
