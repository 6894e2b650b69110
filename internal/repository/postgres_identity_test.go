package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"go-auth-service/internal/model"
)

func TestInsertError(t *testing.T) {
	unique := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_email_key"}
	assert.ErrorIs(t, insertError(unique), model.ErrIdentityExists)
	assert.ErrorIs(t, insertError(fmt.Errorf("wrapped: %w", unique)), model.ErrIdentityExists)

	notNull := &pgconn.PgError{Code: "23502"}
	err := insertError(notNull)
	assert.NotErrorIs(t, err, model.ErrIdentityExists)
	assert.ErrorContains(t, err, "create identity")

	assert.ErrorContains(t, insertError(errors.New("conn reset")), "conn reset")
}
