package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/claude-oauth-broker/broker/internal/crypto"
)

// row is the sealed, on-disk representation of a TokenRecord.
type row struct {
	UserID              string
	SealedAccessToken   []byte
	SealedRefreshToken  []byte
	ExpiresAt           string
	Scopes              string
	IsMax               bool
	RefreshCount        int
	CreatedAt           string
	LastUsedAt          string
}

func (d *sqliteDB) upsertRow(ctx context.Context, r *row) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO token_records
			(user_id, sealed_access_token, sealed_refresh_token, expires_at,
			 scopes, is_max, refresh_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sealed_access_token = excluded.sealed_access_token,
			sealed_refresh_token = excluded.sealed_refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			is_max = excluded.is_max,
			refresh_count = excluded.refresh_count,
			last_used_at = excluded.last_used_at`,
		r.UserID, r.SealedAccessToken, r.SealedRefreshToken, r.ExpiresAt,
		r.Scopes, r.IsMax, r.RefreshCount, r.CreatedAt, r.LastUsedAt,
	)
	return mapConstraintError(err)
}

func (d *sqliteDB) getRow(ctx context.Context, userID string) (*row, error) {
	var r row
	err := d.q.QueryRowContext(ctx, `
		SELECT user_id, sealed_access_token, sealed_refresh_token, expires_at,
		       scopes, is_max, refresh_count, created_at, last_used_at
		FROM token_records WHERE user_id = ?`, userID,
	).Scan(&r.UserID, &r.SealedAccessToken, &r.SealedRefreshToken, &r.ExpiresAt,
		&r.Scopes, &r.IsMax, &r.RefreshCount, &r.CreatedAt, &r.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *sqliteDB) listRows(ctx context.Context) ([]row, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT user_id, sealed_access_token, sealed_refresh_token, expires_at,
		       scopes, is_max, refresh_count, created_at, last_used_at
		FROM token_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.UserID, &r.SealedAccessToken, &r.SealedRefreshToken,
			&r.ExpiresAt, &r.Scopes, &r.IsMax, &r.RefreshCount,
			&r.CreatedAt, &r.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// expiryInfo is a lightweight projection used by the sweeper so it doesn't
// have to decrypt every row just to check expiry.
type expiryInfo struct {
	UserID          string
	ExpiresAt       time.Time
	HasRefreshToken bool
}

func (d *sqliteDB) listExpiries(ctx context.Context) ([]expiryInfo, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT user_id, expires_at, sealed_refresh_token IS NOT NULL
		FROM token_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expiryInfo
	for rows.Next() {
		var userID, expiresAt string
		var hasRefresh bool
		if err := rows.Scan(&userID, &expiresAt, &hasRefresh); err != nil {
			return nil, err
		}
		out = append(out, expiryInfo{
			UserID:          userID,
			ExpiresAt:       parseTime(expiresAt),
			HasRefreshToken: hasRefresh,
		})
	}
	return out, rows.Err()
}

func (d *sqliteDB) deleteRow(ctx context.Context, userID string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM token_records WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *sqliteDB) deleteStaleRows(ctx context.Context, before time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM token_records WHERE last_used_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// sealRecord converts a cleartext TokenRecord into its on-disk row form.
func sealRecord(env *crypto.Envelope, rec *TokenRecord) (*row, error) {
	sealedAccess, err := env.Seal([]byte(rec.AccessToken))
	if err != nil {
		return nil, err
	}
	var sealedRefresh []byte
	if rec.RefreshToken != "" {
		sealedRefresh, err = env.Seal([]byte(rec.RefreshToken))
		if err != nil {
			return nil, err
		}
	}
	scopes, err := json.Marshal(rec.Scopes)
	if err != nil {
		return nil, err
	}
	return &row{
		UserID:             rec.UserID,
		SealedAccessToken:  sealedAccess,
		SealedRefreshToken: sealedRefresh,
		ExpiresAt:          formatTime(rec.ExpiresAt),
		Scopes:             string(scopes),
		IsMax:              rec.IsMax,
		RefreshCount:       rec.RefreshCount,
		CreatedAt:          formatTime(rec.CreatedAt),
		LastUsedAt:         formatTime(rec.LastUsedAt),
	}, nil
}

// openRecord decrypts a row back into a cleartext TokenRecord.
func openRecord(env *crypto.Envelope, r *row) (*TokenRecord, error) {
	access, err := env.Open(r.SealedAccessToken)
	if err != nil {
		return nil, err
	}
	var refresh string
	if len(r.SealedRefreshToken) > 0 {
		plain, err := env.Open(r.SealedRefreshToken)
		if err != nil {
			return nil, err
		}
		refresh = string(plain)
	}
	var scopes []string
	if err := json.Unmarshal([]byte(r.Scopes), &scopes); err != nil {
		return nil, err
	}
	return &TokenRecord{
		UserID:       r.UserID,
		AccessToken:  string(access),
		RefreshToken: refresh,
		ExpiresAt:    parseTime(r.ExpiresAt),
		Scopes:       scopes,
		IsMax:        r.IsMax,
		RefreshCount: r.RefreshCount,
		CreatedAt:    parseTime(r.CreatedAt),
		LastUsedAt:   parseTime(r.LastUsedAt),
	}, nil
}
