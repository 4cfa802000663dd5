package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v/3f2a9c":                   "/v/:id",
		"/v1/credentials/abc":         "/v1/credentials/:id",
		"/v1/credentials/abc/restore": "/v1/credentials/:id/restore",
		"/v1/shares/abc":              "/v1/shares/:id",
		"/v1/shares/abc/analytics":    "/v1/shares/:id/analytics",
		"/v1/shares":                  "/v1/shares",
		"/v1/shares?limit=10":         "/v1/shares",
		"/v1/credentials":             "/v1/credentials",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
