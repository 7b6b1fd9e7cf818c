package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

var ErrNotFound = errors.New("not found")

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, username, protocol, server_id, owner_id, status,
	raw_response, uris, warned_3day, warned_1day, expired_notified,
	created_at, expire_at`

// Upsert inserts the account or, when the logical key already has a row,
// overwrites it in place. Re-creating over an old row re-arms the status and
// clears the warning flags; created_at keeps its original value.
func (r *AccountRepository) Upsert(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO provisioning.accounts (
			id, username, protocol, server_id, owner_id, status,
			raw_response, uris, expire_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9
		)
		ON CONFLICT (username, server_id, protocol) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			status = EXCLUDED.status,
			raw_response = EXCLUDED.raw_response,
			uris = EXCLUDED.uris,
			expire_at = EXCLUDED.expire_at,
			warned_3day = FALSE,
			warned_1day = FALSE,
			expired_notified = FALSE
	`
	uris := a.URIs
	if uris == nil {
		// nil would encode as SQL NULL; the column is NOT NULL
		uris = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Username, a.Protocol, a.ServerID, a.OwnerID, a.Status,
		a.RawResponse, uris, a.ExpireAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioning.accounts WHERE id = $1`, accountColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioning.accounts
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, accountColumns)
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// RenewByKey moves the expiry forward, re-arms the active status, and clears
// the warning flags so the new cycle warns again. Returns ErrNotFound when
// the remote account has no local row.
func (r *AccountRepository) RenewByKey(ctx context.Context, username, serverID, protocol string, expireAt time.Time) error {
	query := `
		UPDATE provisioning.accounts SET
			status = 'active',
			expire_at = $4,
			warned_3day = FALSE,
			warned_1day = FALSE,
			expired_notified = FALSE
		WHERE username = $1 AND server_id = $2 AND protocol = $3
	`
	tag, err := r.pool.Exec(ctx, query, username, serverID, protocol, expireAt)
	if err != nil {
		return fmt.Errorf("renew account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByKey drops the row for the logical account key.
func (r *AccountRepository) DeleteByKey(ctx context.Context, username, serverID, protocol string) error {
	query := `DELETE FROM provisioning.accounts WHERE username = $1 AND server_id = $2 AND protocol = $3`
	tag, err := r.pool.Exec(ctx, query, username, serverID, protocol)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueForWarning selects active accounts whose expiry date is exactly
// `days` days from now and whose warning flag for that window is unset.
// Only the 3-day and 1-day windows exist.
func (r *AccountRepository) ListDueForWarning(ctx context.Context, now time.Time, days int) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioning.accounts
		WHERE status = 'active'
		  AND expire_at::date = ($1::timestamptz + make_interval(days => $2))::date
		  AND %s = FALSE
		ORDER BY expire_at
	`, accountColumns, warnedFlag(days))
	rows, err := r.pool.Query(ctx, query, now, days)
	if err != nil {
		return nil, fmt.Errorf("list accounts due for %d-day warning: %w", days, err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListExpiredUnnotified selects accounts that lapsed within the grace window
// and have not had their expiry notice sent.
func (r *AccountRepository) ListExpiredUnnotified(ctx context.Context, now time.Time, graceDays int) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioning.accounts
		WHERE expire_at <= $1
		  AND expire_at > $1 - make_interval(days => $2)
		  AND expired_notified = FALSE
		ORDER BY expire_at
	`, accountColumns)
	rows, err := r.pool.Query(ctx, query, now, graceDays)
	if err != nil {
		return nil, fmt.Errorf("list expired accounts: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListDueForGraceDelete selects accounts past the grace period. No status
// filter: the row goes regardless of what earlier sweeps managed to do.
func (r *AccountRepository) ListDueForGraceDelete(ctx context.Context, now time.Time, graceDays int) ([]*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioning.accounts
		WHERE expire_at <= $1 - make_interval(days => $2)
		ORDER BY expire_at
	`, accountColumns)
	rows, err := r.pool.Query(ctx, query, now, graceDays)
	if err != nil {
		return nil, fmt.Errorf("list accounts past grace period: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// SetWarned flips the warning flag for the given window.
func (r *AccountRepository) SetWarned(ctx context.Context, id string, days int) error {
	query := fmt.Sprintf(`UPDATE provisioning.accounts SET %s = TRUE WHERE id = $1`, warnedFlag(days))
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set %d-day warned flag: %w", days, err)
	}
	return nil
}

// MarkExpiredNotified records the post-expiry notice and flips the status.
func (r *AccountRepository) MarkExpiredNotified(ctx context.Context, id string) error {
	query := `UPDATE provisioning.accounts SET expired_notified = TRUE, status = 'expired' WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark expired notified: %w", err)
	}
	return nil
}

// warnedFlag picks the flag column for a warning window. Closed two-value
// choice; never interpolates caller input.
func warnedFlag(days int) string {
	if days == 1 {
		return "warned_1day"
	}
	return "warned_3day"
}

func (r *AccountRepository) scanOne(row pgx.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(
		&a.ID, &a.Username, &a.Protocol, &a.ServerID, &a.OwnerID, &a.Status,
		&a.RawResponse, &a.URIs, &a.Warned3Day, &a.Warned1Day, &a.ExpiredNotified,
		&a.CreatedAt, &a.ExpireAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) scanMany(rows pgx.Rows) ([]*models.Account, error) {
	var results []*models.Account
	for rows.Next() {
		a := &models.Account{}
		err := rows.Scan(
			&a.ID, &a.Username, &a.Protocol, &a.ServerID, &a.OwnerID, &a.Status,
			&a.RawResponse, &a.URIs, &a.Warned3Day, &a.Warned1Day, &a.ExpiredNotified,
			&a.CreatedAt, &a.ExpireAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
