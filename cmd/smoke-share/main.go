package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"credvault.org/internal/wallet"
	"credvault.org/internal/wallet/remote"
)

func main() {
	baseURL := os.Getenv("CREDVAULT_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := remote.New(baseURL)
	if err := client.Authenticate(ctx, "smoke"); err != nil {
		log.Fatalf("authenticate at %s: %v", baseURL, err)
	}

	cred, err := client.ImportCredential(ctx, remote.ImportCredentialRequest{
		Title:        "Smoke Test Diploma",
		IssuerName:   "Smoke University",
		IssuerDomain: "smoke.example",
		IssuedDate:   time.Now().UTC().AddDate(-1, 0, 0),
		Payload: map[string]string{
			"student_name": "Smoke Tester",
			"degree":       "BSc Smoke Engineering",
			"email":        "smoke@example.edu",
		},
	})
	if err != nil {
		log.Fatalf("import credential: %v", err)
	}

	share, err := client.CreateShare(ctx, remote.CreateShareRequest{
		CredentialID: cred.ID,
		Preset:       "lite",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		MaxViews:     2,
	})
	if err != nil {
		log.Fatalf("create share: %v", err)
	}

	// Two views fit the budget, the third must be reported as expired.
	for i := 1; i <= 2; i++ {
		res, err := client.Verify(ctx, share.ID, "")
		if err != nil {
			log.Fatalf("verify %d: %v", i, err)
		}
		if res.Status != wallet.StatusValid {
			log.Fatalf("verify %d: unexpected status %q", i, res.Status)
		}
		if _, leaked := res.Credential.Payload["email"]; leaked {
			log.Fatalf("verify %d: lite share leaked a hidden field", i)
		}
	}
	res, err := client.Verify(ctx, share.ID, "")
	if err != nil {
		log.Fatalf("verify exhausted: %v", err)
	}
	if res.Status != wallet.StatusExpired {
		log.Fatalf("exhausted share: expected expired, got %q", res.Status)
	}

	report, err := client.ShareAnalytics(ctx, share.ID)
	if err != nil {
		log.Fatalf("analytics: %v", err)
	}
	if report.Views != 2 || report.ViewsRemaining != 0 {
		log.Fatalf("analytics drifted: views=%d remaining=%d", report.Views, report.ViewsRemaining)
	}

	if err := client.RevokeShare(ctx, share.ID); err != nil {
		log.Fatalf("revoke: %v", err)
	}

	fmt.Printf("✅ share engine smoke test passed: share=%s\n", share.ID)
}
