package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
)

func TestTranslateMapsDriverErrors(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(pgx.ErrNoRows), repository.ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23503", Message: "fk"}), repository.ErrInvalidArgument)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23514"}), repository.ErrInvalidArgument)

	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
	serialization := &pgconn.PgError{Code: "40001"}
	assert.Equal(t, error(serialization), translate(serialization))
}
