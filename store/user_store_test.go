package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockUserStore(t *testing.T) (*UserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db), mock
}

func TestUserStore_CreateUser(t *testing.T) {
	s, mock := newMockUserStore(t)
	hashed := []byte("$2a$10$hash")
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (email, hashed_password)")).
		WithArgs("ops@tinyhome.test", hashed).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at", "updated_at"}).
			AddRow(7, "ops@tinyhome.test", now, now))

	user, err := s.CreateUser(context.Background(), "ops@tinyhome.test", hashed)
	require.NoError(t, err)
	assert.Equal(t, 7, user.ID)
	assert.Equal(t, "ops@tinyhome.test", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_CreateUser_Duplicate(t *testing.T) {
	s, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := s.CreateUser(context.Background(), "ops@tinyhome.test", []byte("x"))
	assert.ErrorIs(t, err, ErrUserExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_CreateUser_OtherError(t *testing.T) {
	s, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(errors.New("connection refused"))

	_, err := s.CreateUser(context.Background(), "ops@tinyhome.test", []byte("x"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUserExists))
}

func TestUserStore_GetUserByEmail(t *testing.T) {
	s, mock := newMockUserStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("ops@tinyhome.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "hashed_password", "created_at", "updated_at"}).
			AddRow(7, "ops@tinyhome.test", []byte("hash"), now, now))

	user, err := s.GetUserByEmail(context.Background(), "ops@tinyhome.test")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), user.HashedPassword)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetUserByEmail_NotFound(t *testing.T) {
	s, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("missing@tinyhome.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "hashed_password", "created_at", "updated_at"}))

	_, err := s.GetUserByEmail(context.Background(), "missing@tinyhome.test")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
