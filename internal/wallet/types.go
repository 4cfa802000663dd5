package wallet

import (
	"errors"
	"time"
)

// Visibility is the per-field disclosure level attached to a share policy.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityMasked  Visibility = "masked"
	VisibilityHidden  Visibility = "hidden"
)

// Preset seeds a disclosure policy.
type Preset string

const (
	PresetFull   Preset = "full"
	PresetLite   Preset = "lite"
	PresetCustom Preset = "custom"
)

// CredentialStatus tracks the issuer-side state of a stored credential.
type CredentialStatus string

const (
	CredentialValid   CredentialStatus = "valid"
	CredentialExpired CredentialStatus = "expired"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is a stored verifiable credential owned by exactly one user.
// Payload is an arbitrary field-name -> value mapping; insertion order is
// irrelevant and no fixed schema is assumed.
type Credential struct {
	ID           string            `json:"id"`
	UserID       string            `json:"-"`
	Title        string            `json:"title"`
	IssuerName   string            `json:"issuer_name"`
	IssuerDomain string            `json:"issuer_domain"`
	Subject      string            `json:"subject"`
	Category     string            `json:"category"`
	Status       CredentialStatus  `json:"status"`
	IssuedDate   time.Time         `json:"issued_date"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	DeletedAt    *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Trashed reports whether the credential is soft-deleted.
func (c Credential) Trashed() bool { return c.DeletedAt != nil }

// DisclosurePolicy maps every payload field to a visibility level. It is
// embedded in a share, never persisted standalone.
type DisclosurePolicy struct {
	Preset          Preset                `json:"preset"`
	FieldVisibility map[string]Visibility `json:"field_visibility"`
}

// Share is a capability token granting limited, policy-filtered access to one
// credential. AccessCodeHash is a bcrypt hash; the raw code is never stored.
type Share struct {
	ID             string           `json:"id"`
	UserID         string           `json:"-"`
	CredentialID   string           `json:"cred_id"`
	Policy         DisclosurePolicy `json:"policy"`
	ExpiresAt      time.Time        `json:"expires_at"`
	MaxViews       int              `json:"max_views"`
	Views          int              `json:"views"`
	AccessCodeHash string           `json:"-"`
	Revoked        bool             `json:"revoked"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasAccessCode reports whether the share is gated by an access code.
func (s Share) HasAccessCode() bool { return s.AccessCodeHash != "" }

// ShareRequest carries the caller-supplied parameters for share issuance.
type ShareRequest struct {
	CredentialID    string
	Preset          Preset
	SelectedFields  []string
	FieldVisibility map[string]Visibility
	ExpiresAt       time.Time
	MaxViews        int
	AccessCode      string
}

// ShareView is one append-only analytics row per verification attempt.
// IP and user agent arrive already hashed; see AnonymizeViewer.
type ShareView struct {
	ID                int64     `json:"id"`
	ShareID           string    `json:"share_id"`
	ViewedAt          time.Time `json:"viewed_at"`
	IPHash            string    `json:"ip_hash"`
	UAHash            string    `json:"ua_hash"`
	Country           string    `json:"country"`
	City              string    `json:"city,omitempty"`
	ReferrerDomain    string    `json:"referrer_domain,omitempty"`
	OK                bool      `json:"ok"`
	AccessCodeAttempt bool      `json:"access_code_attempt"`
}

// ViewerContext is the raw request context of a verification attempt. It is
// anonymized before anything is persisted.
type ViewerContext struct {
	IP        string
	UserAgent string
	Country   string
	City      string
	Referrer  string
}

// VerificationStatus is a terminal state of the verification engine. State
// outcomes are values, not errors.
type VerificationStatus string

const (
	StatusValid       VerificationStatus = "valid"
	StatusNotFound    VerificationStatus = "not_found"
	StatusRevoked     VerificationStatus = "revoked"
	StatusExpired     VerificationStatus = "expired"
	StatusInvalidCode VerificationStatus = "invalid_code"
)

// DisclosedCredential is the policy-filtered credential returned to a
// verifier. Hidden fields are absent from Payload, not nulled.
type DisclosedCredential struct {
	Title        string            `json:"title"`
	IssuerName   string            `json:"issuer_name"`
	IssuerDomain string            `json:"issuer_domain"`
	IssuedDate   time.Time         `json:"issued_date"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Payload      map[string]string `json:"payload"`
}

// ShareSummary is the share metadata disclosed alongside a successful
// verification.
type ShareSummary struct {
	CreatedAt time.Time        `json:"created_at"`
	Views     int              `json:"views"`
	MaxViews  int              `json:"max_views"`
	ExpiresAt time.Time        `json:"expires_at"`
	Policy    DisclosurePolicy `json:"policy"`
}

// CauseViewsExhausted marks a share whose view budget ran out. The wire
// status stays "expired"; the precise cause only reaches internal logs.
const CauseViewsExhausted = "views_exhausted"

// VerificationResult is the structured outcome of one verification attempt.
// On failure only the terminal status is populated.
type VerificationResult struct {
	Status             VerificationStatus   `json:"status"`
	RequiresAccessCode bool                 `json:"requiresAccessCode,omitempty"`
	Credential         *DisclosedCredential `json:"credential,omitempty"`
	Share              *ShareSummary        `json:"share,omitempty"`
	IssuerTrusted      bool                 `json:"issuerTrusted"`
	FraudFlags         []string             `json:"fraudFlags,omitempty"`
	CheckedAt          time.Time            `json:"checkedAt"`

	// Cause carries the precise terminal reason for audit logging when the
	// wire status deliberately collapses it. Never serialized.
	Cause string `json:"-"`
}

// AnalyticsReport summarizes the recorded views of one share for its owner.
type AnalyticsReport struct {
	ShareID        string         `json:"share_id"`
	Views          int            `json:"views"`
	MaxViews       int            `json:"max_views"`
	ViewsRemaining int            `json:"views_remaining"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Revoked        bool           `json:"revoked"`
	Countries      map[string]int `json:"countries"`
	Referrers      map[string]int `json:"referrers"`
	Recent         []ShareView    `json:"recent"`
}

const analyticsRecentLimit = 10

func NewAnalyticsReport(share Share) AnalyticsReport {
	remaining := share.MaxViews - share.Views
	if remaining < 0 {
		remaining = 0
	}
	return AnalyticsReport{
		ShareID:        share.ID,
		Views:          share.Views,
		MaxViews:       share.MaxViews,
		ViewsRemaining: remaining,
		ExpiresAt:      share.ExpiresAt,
		Revoked:        share.Revoked,
		Countries:      map[string]int{},
		Referrers:      map[string]int{},
	}
}

// Observe folds one view row into the report. Rows must arrive newest first
// so Recent keeps the latest attempts.
func (r *AnalyticsReport) Observe(v ShareView) {
	r.Countries[v.Country]++
	if v.ReferrerDomain != "" {
		r.Referrers[v.ReferrerDomain]++
	}
	if len(r.Recent) < analyticsRecentLimit {
		r.Recent = append(r.Recent, v)
	}
}

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidExpiry    = errors.New("invalid expiry")
	ErrInvalidViewLimit = errors.New("invalid view limit")
	ErrWeakAccessCode   = errors.New("access code too weak")
	ErrInvalidFieldName = errors.New("invalid field name")
	ErrEmptyDisclosure  = errors.New("policy discloses no fields")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
