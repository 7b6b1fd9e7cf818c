package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

type ServerRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{pool: pool}
}

const serverColumns = `id, name, host, ssh_port, root_user, root_password,
	price, quota_gb, ip_limit, max_accounts, accounts_created,
	created_at, updated_at`

func (r *ServerRepository) Create(ctx context.Context, s *models.Server) error {
	query := `
		INSERT INTO provisioning.servers (
			id, name, host, ssh_port, root_user, root_password,
			price, quota_gb, ip_limit, max_accounts
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Name, s.Host, s.SSHPort, s.RootUser, s.RootPassword,
		s.Price, s.QuotaGB, s.IPLimit, s.MaxAccounts,
	)
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

func (r *ServerRepository) GetByID(ctx context.Context, id string) (*models.Server, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioning.servers WHERE id = $1`, serverColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *ServerRepository) List(ctx context.Context) ([]*models.Server, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioning.servers ORDER BY name`, serverColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *ServerRepository) Update(ctx context.Context, s *models.Server) error {
	query := `
		UPDATE provisioning.servers SET
			name = $1, host = $2, ssh_port = $3,
			root_user = $4, root_password = $5,
			price = $6, quota_gb = $7, ip_limit = $8,
			max_accounts = $9, updated_at = NOW()
		WHERE id = $10
	`
	tag, err := r.pool.Exec(ctx, query,
		s.Name, s.Host, s.SSHPort,
		s.RootUser, s.RootPassword,
		s.Price, s.QuotaGB, s.IPLimit,
		s.MaxAccounts, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a server; its account rows cascade.
func (r *ServerRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM provisioning.servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAccounts bumps the capacity counter after a successful creation.
func (r *ServerRepository) IncrementAccounts(ctx context.Context, id string) error {
	query := `UPDATE provisioning.servers SET accounts_created = accounts_created + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment accounts_created: %w", err)
	}
	return nil
}

func (r *ServerRepository) scanOne(row pgx.Row) (*models.Server, error) {
	s := &models.Server{}
	err := row.Scan(
		&s.ID, &s.Name, &s.Host, &s.SSHPort, &s.RootUser, &s.RootPassword,
		&s.Price, &s.QuotaGB, &s.IPLimit, &s.MaxAccounts, &s.AccountsCreated,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	return s, nil
}

func (r *ServerRepository) scanMany(rows pgx.Rows) ([]*models.Server, error) {
	var results []*models.Server
	for rows.Next() {
		s := &models.Server{}
		err := rows.Scan(
			&s.ID, &s.Name, &s.Host, &s.SSHPort, &s.RootUser, &s.RootPassword,
			&s.Price, &s.QuotaGB, &s.IPLimit, &s.MaxAccounts, &s.AccountsCreated,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
