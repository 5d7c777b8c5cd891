package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/healwise/apiserver/internal/db"
	"github.com/healwise/apiserver/types"
)

const userColumns = `id, name, email, role, password_hash, oauth_provider, oauth_subject, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db     *sql.DB
	driver db.Driver
}

func NewUserRepository(conn *sql.DB, driver db.Driver) *UserRepository {
	return &UserRepository{db: conn, driver: driver}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := db.Rebind(r.driver, `SELECT `+userColumns+` FROM users WHERE id = ?`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := db.Rebind(r.driver, `SELECT `+userColumns+` FROM users WHERE email = ?`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := db.Rebind(r.driver, `
		INSERT INTO users (name, email, role, password_hash, oauth_provider, oauth_subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		string(user.Role),
		user.PasswordHash,
		user.OAuthProvider,
		user.OAuthSubject,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int) error {
	query := db.Rebind(r.driver, `DELETE FROM users WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (types.User, error) {
	var user types.User
	var role string
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&role,
		&user.PasswordHash,
		&user.OAuthProvider,
		&user.OAuthSubject,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.Role = types.Role(role)
	return user, nil
}
