package postgres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/repository"
	"github.com/nkorolev/credd/internal/testutil"
)

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := NewStorage(pg.Pool)

	t.Run("repos share the db handle", func(t *testing.T) {
		require.NotNil(t, storage.User())
		require.NotNil(t, storage.Session())
	})

	t.Run("InTx commits on success", func(t *testing.T) {
		err := storage.InTx(t.Context(), func(s repository.Storage) error {
			_, err := s.User().CreateUser(t.Context(), "committed-user", "hash")
			return err
		})
		require.NoError(t, err)

		_, err = storage.User().GetUserByUsername(t.Context(), "committed-user")
		require.NoError(t, err, "user created in tx should be visible after commit")
	})

	t.Run("InTx rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")

		err := storage.InTx(t.Context(), func(s repository.Storage) error {
			if _, err := s.User().CreateUser(t.Context(), "rolled-back-user", "hash"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = storage.User().GetUserByUsername(t.Context(), "rolled-back-user")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound, "user must be gone after rollback")
	})
}
