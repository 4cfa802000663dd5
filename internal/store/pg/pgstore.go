package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"credvault.org/internal/auth"
	"credvault.org/internal/ids"
	"credvault.org/internal/obs"
	"credvault.org/internal/wallet"
)

// Store implements wallet.Service on Postgres. The view-counter invariant is
// enforced by a conditional UPDATE, so the guarantee holds across multiple
// server instances without in-process locks.
type Store struct {
	db *sql.DB

	// Limiter, when set, gates share issuance per user. Nil disables the check.
	Limiter wallet.RateLimiter
}

var _ wallet.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) ImportCredential(ctx context.Context, userID string, cred wallet.Credential) (wallet.Credential, error) {
	if strings.TrimSpace(userID) == "" {
		return wallet.Credential{}, wallet.ErrNotFound
	}
	if strings.TrimSpace(cred.Title) == "" || strings.TrimSpace(cred.IssuerName) == "" {
		return wallet.Credential{}, fmt.Errorf("%w: title and issuer_name are required", wallet.ErrInvalidFieldName)
	}
	for field := range cred.Payload {
		if err := wallet.ValidateFieldName(field); err != nil {
			return wallet.Credential{}, err
		}
	}

	now := time.Now().UTC()
	cred.ID = ids.New()
	cred.UserID = userID
	if cred.Status == "" {
		cred.Status = wallet.CredentialValid
	}
	cred.DeletedAt = nil
	cred.CreatedAt = now
	cred.UpdatedAt = now

	payload, err := json.Marshal(cred.Payload)
	if err != nil {
		return wallet.Credential{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into credentials(id, user_id, title, issuer_name, issuer_domain, subject, category, status, issued_date, expires_at, payload, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, cred.ID, userID, cred.Title, cred.IssuerName, cred.IssuerDomain, cred.Subject, cred.Category, string(cred.Status), cred.IssuedDate, cred.ExpiresAt, payload, now)
	if err != nil {
		return wallet.Credential{}, err
	}
	return cred, nil
}

const credentialColumns = `id, user_id, title, issuer_name, issuer_domain, subject, category, status, issued_date, expires_at, payload, deleted_at, created_at, updated_at`

func (s *Store) GetCredential(ctx context.Context, userID, id string) (wallet.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials where id=$1 and user_id=$2
	`, id, userID)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Credential{}, wallet.ErrNotFound
	}
	return cred, err
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]wallet.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+` from credentials
		where user_id=$1 and deleted_at is null
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []wallet.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cred)
	}
	return res, rows.Err()
}

func (s *Store) TrashCredential(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		update credentials set deleted_at=now(), updated_at=now()
		where id=$1 and user_id=$2 and deleted_at is null
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wallet.ErrNotFound
	}
	// Deleting a credential implies revoking every live share over it.
	if _, err := tx.ExecContext(ctx, `
		update shares set revoked=true, updated_at=now()
		where cred_id=$1 and not revoked
	`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RestoreCredential(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		update credentials set deleted_at=null, updated_at=now()
		where id=$1 and user_id=$2 and deleted_at is not null
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wallet.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeCredential(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from share_views where share_id in (select id from shares where cred_id=$1)
	`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from shares where cred_id=$1`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `delete from credentials where id=$1 and user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wallet.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CreateShare(ctx context.Context, userID string, req wallet.ShareRequest) (wallet.Share, error) {
	if s.Limiter != nil && !s.Limiter.Allow(userID, wallet.EndpointCreateShare) {
		return wallet.Share{}, wallet.ErrRateLimited
	}
	now := time.Now().UTC()
	if err := wallet.ValidateShareRequest(req, now); err != nil {
		return wallet.Share{}, err
	}

	cred, err := s.GetCredential(ctx, userID, req.CredentialID)
	if err != nil {
		return wallet.Share{}, err
	}
	if cred.Trashed() {
		return wallet.Share{}, wallet.ErrNotFound
	}
	policy, err := wallet.BuildRequestPolicy(req, cred.Payload)
	if err != nil {
		return wallet.Share{}, err
	}

	var codeHash string
	if req.AccessCode != "" {
		codeHash, err = auth.HashAccessCode(strings.TrimSpace(req.AccessCode))
		if err != nil {
			return wallet.Share{}, err
		}
	}

	share := wallet.Share{
		ID:             ids.NewShareToken(),
		UserID:         userID,
		CredentialID:   cred.ID,
		Policy:         policy,
		ExpiresAt:      req.ExpiresAt.UTC(),
		MaxViews:       req.MaxViews,
		AccessCodeHash: codeHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return wallet.Share{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into shares(id, user_id, cred_id, policy, expires_at, max_views, views, access_code_hash, revoked, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,0,nullif($7,''),false,$8,$8)
	`, share.ID, userID, share.CredentialID, policyJSON, share.ExpiresAt, share.MaxViews, codeHash, now)
	if err != nil {
		return wallet.Share{}, err
	}
	return share, nil
}

func (s *Store) ListShares(ctx context.Context, userID string) ([]wallet.Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, cred_id, policy, expires_at, max_views, views, coalesce(access_code_hash,''), revoked, created_at, updated_at
		from shares where user_id=$1 order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []wallet.Share
	for rows.Next() {
		var share wallet.Share
		var policy []byte
		if err := rows.Scan(&share.ID, &share.UserID, &share.CredentialID, &policy, &share.ExpiresAt,
			&share.MaxViews, &share.Views, &share.AccessCodeHash, &share.Revoked, &share.CreatedAt, &share.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(policy, &share.Policy); err != nil {
			return nil, err
		}
		res = append(res, share)
	}
	return res, rows.Err()
}

func (s *Store) RevokeShare(ctx context.Context, userID, shareID string) error {
	result, err := s.db.ExecContext(ctx, `
		update shares set revoked=true, updated_at=now()
		where id=$1 and user_id=$2
	`, shareID, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return wallet.ErrNotFound
	}
	return nil
}

// Verify runs the verification state machine against a share snapshot, then
// consumes a view with a single conditional UPDATE. Two concurrent
// verifications can both pass the snapshot checks, but only as many UPDATEs
// succeed as the view budget allows.
func (s *Store) Verify(ctx context.Context, shareID, accessCode string, viewer wallet.ViewerContext) (wallet.VerificationResult, error) {
	now := time.Now().UTC()

	snap, cred, err := s.loadShare(ctx, shareID)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordView(ctx, wallet.AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
		return wallet.TerminalResult(wallet.StatusNotFound, false, now), nil
	}
	if err != nil {
		// Fail closed: uncertainty about share validity denies access.
		return wallet.VerificationResult{}, err
	}

	fail := func(status wallet.VerificationStatus, requiresCode, codeAttempt bool, cause string) wallet.VerificationResult {
		s.recordView(ctx, wallet.AnonymizeViewer(shareID, viewer, false, codeAttempt, now))
		res := wallet.TerminalResult(status, requiresCode, now)
		res.Cause = cause
		return res
	}

	switch {
	case snap.Revoked:
		return fail(wallet.StatusRevoked, false, accessCode != "", ""), nil
	case !now.Before(snap.ExpiresAt):
		return fail(wallet.StatusExpired, false, accessCode != "", ""), nil
	case snap.Views >= snap.MaxViews:
		return fail(wallet.StatusExpired, false, accessCode != "", wallet.CauseViewsExhausted), nil
	}
	if snap.HasAccessCode() {
		if accessCode == "" || auth.VerifyAccessCode(snap.AccessCodeHash, accessCode) != nil {
			return fail(wallet.StatusInvalidCode, true, true, ""), nil
		}
	}
	if cred.Trashed() {
		return fail(wallet.StatusNotFound, false, accessCode != "", ""), nil
	}

	// The core concurrency invariant: check-and-increment in one statement.
	var views int
	err = s.db.QueryRowContext(ctx, `
		update shares set views = views + 1, updated_at = now()
		where id=$1 and not revoked and expires_at > now() and views < max_views
		returning views
	`, shareID).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; reclassify from current state.
		return s.reclassify(ctx, shareID, viewer, accessCode, now)
	}
	if err != nil {
		return wallet.VerificationResult{}, err
	}

	snap.Views = views
	s.recordView(ctx, wallet.AnonymizeViewer(shareID, viewer, true, accessCode != "", now))
	return wallet.SuccessResult(snap, cred, now), nil
}

// reclassify maps a failed conditional update back onto the terminal-state
// order. By the time we re-read, the decisive condition is stable.
func (s *Store) reclassify(ctx context.Context, shareID string, viewer wallet.ViewerContext, accessCode string, now time.Time) (wallet.VerificationResult, error) {
	var revoked bool
	var expiresAt time.Time
	var views, maxViews int
	err := s.db.QueryRowContext(ctx, `
		select revoked, expires_at, views, max_views from shares where id=$1
	`, shareID).Scan(&revoked, &expiresAt, &views, &maxViews)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return wallet.VerificationResult{}, err
	}

	// Every attempt is recorded, including ones against a share that vanished
	// between the snapshot and the update.
	s.recordView(ctx, wallet.AnonymizeViewer(shareID, viewer, false, accessCode != "", now))
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.TerminalResult(wallet.StatusNotFound, false, now), nil
	}
	switch {
	case revoked:
		return wallet.TerminalResult(wallet.StatusRevoked, false, now), nil
	case !now.Before(expiresAt):
		return wallet.TerminalResult(wallet.StatusExpired, false, now), nil
	default:
		res := wallet.TerminalResult(wallet.StatusExpired, false, now)
		res.Cause = wallet.CauseViewsExhausted
		return res, nil
	}
}

func (s *Store) ShareAnalytics(ctx context.Context, userID, shareID string) (wallet.AnalyticsReport, error) {
	var share wallet.Share
	var policy []byte
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, cred_id, policy, expires_at, max_views, views, coalesce(access_code_hash,''), revoked, created_at, updated_at
		from shares where id=$1 and user_id=$2
	`, shareID, userID).Scan(&share.ID, &share.UserID, &share.CredentialID, &policy, &share.ExpiresAt,
		&share.MaxViews, &share.Views, &share.AccessCodeHash, &share.Revoked, &share.CreatedAt, &share.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.AnalyticsReport{}, wallet.ErrNotFound
	}
	if err != nil {
		return wallet.AnalyticsReport{}, err
	}
	if err := json.Unmarshal(policy, &share.Policy); err != nil {
		return wallet.AnalyticsReport{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, share_id, viewed_at, ip_hash, ua_hash, country, coalesce(city,''), coalesce(referrer_domain,''), ok, access_code_attempt
		from share_views where share_id=$1 order by viewed_at desc
	`, shareID)
	if err != nil {
		return wallet.AnalyticsReport{}, err
	}
	defer rows.Close()

	report := wallet.NewAnalyticsReport(share)
	for rows.Next() {
		var v wallet.ShareView
		if err := rows.Scan(&v.ID, &v.ShareID, &v.ViewedAt, &v.IPHash, &v.UAHash, &v.Country, &v.City,
			&v.ReferrerDomain, &v.OK, &v.AccessCodeAttempt); err != nil {
			return wallet.AnalyticsReport{}, err
		}
		report.Observe(v)
	}
	return report, rows.Err()
}

// recordView appends the analytics row best-effort: a failed insert is
// logged and must never roll back or fail a verification.
func (s *Store) recordView(ctx context.Context, v wallet.ShareView) {
	_, err := s.db.ExecContext(ctx, `
		insert into share_views(share_id, viewed_at, ip_hash, ua_hash, country, city, referrer_domain, ok, access_code_attempt)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),$8,$9)
	`, v.ShareID, v.ViewedAt, v.IPHash, v.UAHash, v.Country, v.City, v.ReferrerDomain, v.OK, v.AccessCodeAttempt)
	if err != nil {
		obs.Logger().Printf(`{"level":"error","msg":"record share view failed","share_id":%q,"error":%q}`, v.ShareID, err.Error())
	}
}

func (s *Store) loadShare(ctx context.Context, shareID string) (wallet.Share, wallet.Credential, error) {
	var share wallet.Share
	var cred wallet.Credential
	var policy, payload []byte
	err := s.db.QueryRowContext(ctx, `
		select s.id, s.user_id, s.cred_id, s.policy, s.expires_at, s.max_views, s.views, coalesce(s.access_code_hash,''), s.revoked, s.created_at, s.updated_at,
		       c.title, c.issuer_name, c.issuer_domain, c.issued_date, c.expires_at, c.payload, c.deleted_at
		from shares s
		join credentials c on c.id = s.cred_id
		where s.id=$1
	`, shareID).Scan(&share.ID, &share.UserID, &share.CredentialID, &policy, &share.ExpiresAt,
		&share.MaxViews, &share.Views, &share.AccessCodeHash, &share.Revoked, &share.CreatedAt, &share.UpdatedAt,
		&cred.Title, &cred.IssuerName, &cred.IssuerDomain, &cred.IssuedDate, &cred.ExpiresAt, &payload, &cred.DeletedAt)
	if err != nil {
		return wallet.Share{}, wallet.Credential{}, err
	}
	if err := json.Unmarshal(policy, &share.Policy); err != nil {
		return wallet.Share{}, wallet.Credential{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cred.Payload); err != nil {
			return wallet.Share{}, wallet.Credential{}, err
		}
	}
	cred.ID = share.CredentialID
	return share, cred, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (wallet.Credential, error) {
	var cred wallet.Credential
	var status string
	var payload []byte
	err := row.Scan(&cred.ID, &cred.UserID, &cred.Title, &cred.IssuerName, &cred.IssuerDomain, &cred.Subject,
		&cred.Category, &status, &cred.IssuedDate, &cred.ExpiresAt, &payload, &cred.DeletedAt, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return wallet.Credential{}, err
	}
	cred.Status = wallet.CredentialStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cred.Payload); err != nil {
			return wallet.Credential{}, err
		}
	}
	return cred, nil
}
