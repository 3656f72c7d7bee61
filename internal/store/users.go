package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	SuperAdmin   bool
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const userColumns = `id, email, name, COALESCE(password_hash, ''), super_admin, disabled, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var id pgtype.UUID
	err := row.Scan(&id, &u.Email, &u.Name, &u.PasswordHash, &u.SuperAdmin, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, mapRowErr(err)
	}
	u.ID = fromPgUUID(id)
	return u, nil
}

type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
	SuperAdmin   bool
}

func (s *Store) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, super_admin)
		VALUES (lower($1), $2, NULLIF($3, ''), $4)
		RETURNING `+userColumns,
		arg.Email, arg.Name, arg.PasswordHash, arg.SuperAdmin)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, pgUUID(id))
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type UpdateUserParams struct {
	ID         uuid.UUID
	Name       string
	SuperAdmin *bool
	Disabled   *bool
}

func (s *Store) UpdateUser(ctx context.Context, arg UpdateUserParams) (User, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users
		SET name = COALESCE(NULLIF($2, ''), name),
		    super_admin = COALESCE($3, super_admin),
		    disabled = COALESCE($4, disabled),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		pgUUID(arg.ID), arg.Name, arg.SuperAdmin, arg.Disabled)
	return scanUser(row)
}

func (s *Store) SetUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET password_hash = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		pgUUID(id), passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
