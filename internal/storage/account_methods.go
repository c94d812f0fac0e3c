package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

const accountSelect = `
	SELECT id, created_at, updated_at, account_id, name, email, country, encrypted_password
	FROM accounts`

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			id, created_at, updated_at, account_id, name, email, country, encrypted_password
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.CreatedAt, account.UpdatedAt, account.AccountID,
		account.Name, account.Email, account.Country, account.EncryptedPassword,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetAccountByAccountID(ctx context.Context, accountID string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE account_id = $1`, accountID))
}

func (s *PostgresStore) scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID, &account.CreatedAt, &account.UpdatedAt, &account.AccountID,
		&account.Name, &account.Email, &account.Country, &account.EncryptedPassword,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()

	query := `
		UPDATE accounts SET
			updated_at = $2, name = $3, email = $4, country = $5, encrypted_password = $6
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		account.ID, account.UpdatedAt, account.Name, account.Email,
		account.Country, account.EncryptedPassword,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, accountSelect+` ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		err := rows.Scan(
			&account.ID, &account.CreatedAt, &account.UpdatedAt, &account.AccountID,
			&account.Name, &account.Email, &account.Country, &account.EncryptedPassword,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, total, rows.Err()
}
