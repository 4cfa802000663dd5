package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"
)

const viewerHashLen = 8

// hashViewerToken truncates a SHA-256 digest to 8 hex characters: enough to
// correlate repeat viewers within one share, useless for recovering the
// input.
func hashViewerToken(raw string) string {
	if raw == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:viewerHashLen]
}

func referrerDomain(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// AnonymizeViewer converts raw request context into the append-only
// analytics row. Raw IP and user agent never leave this function.
func AnonymizeViewer(shareID string, viewer ViewerContext, ok, accessCodeAttempt bool, now time.Time) ShareView {
	country := viewer.Country
	if country == "" {
		country = "unknown"
	}
	return ShareView{
		ShareID:           shareID,
		ViewedAt:          now,
		IPHash:            hashViewerToken(viewer.IP),
		UAHash:            hashViewerToken(viewer.UserAgent),
		Country:           country,
		City:              viewer.City,
		ReferrerDomain:    referrerDomain(viewer.Referrer),
		OK:                ok,
		AccessCodeAttempt: accessCodeAttempt,
	}
}
