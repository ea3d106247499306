package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/skeind/showrunner/internal/platform/postgres"
	"github.com/skeind/showrunner/internal/store"
)

func pgError(code, constraint, column string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		ConstraintName: constraint,
		ColumnName:     column,
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: nil,
		},
		{
			name:     "no rows maps to not found",
			err:      sql.ErrNoRows,
			expected: store.ErrNotFound,
		},
		{
			name:     "wrapped no rows maps to not found",
			err:      fmt.Errorf("query failed: %w", sql.ErrNoRows),
			expected: store.ErrNotFound,
		},
		{
			name:     "unique violation maps to duplicate",
			err:      pgError("23505", "tasks_pkey", ""),
			expected: store.ErrDuplicate,
		},
		{
			name:     "check violation maps to invalid entity",
			err:      pgError("23514", "tasks_priority_check", ""),
			expected: store.ErrInvalidEntity,
		},
		{
			name:     "not null violation maps to invalid entity",
			err:      pgError("23502", "", "kind"),
			expected: store.ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := postgres.MapError(tt.err)
			if tt.expected == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tt.expected)
		})
	}
}

func TestMapErrorPassesThroughUnknownErrors(t *testing.T) {
	err := errors.New("connection reset by peer")
	assert.Equal(t, err, postgres.MapError(err))

	// Other postgres codes pass through untouched too.
	serialization := pgError("40001", "", "")
	assert.Equal(t, error(serialization), postgres.MapError(serialization))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, postgres.IsUniqueViolation(pgError("23505", "nodes_pkey", "")))
	assert.True(t, postgres.IsUniqueViolation(fmt.Errorf("save failed: %w", pgError("23505", "", ""))))
	assert.False(t, postgres.IsUniqueViolation(pgError("23514", "", "")))
	assert.False(t, postgres.IsUniqueViolation(errors.New("not a pg error")))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, postgres.IsNotFoundError(sql.ErrNoRows))
	assert.True(t, postgres.IsNotFoundError(store.ErrNotFound))
	assert.True(t, postgres.IsNotFoundError(fmt.Errorf("lookup: %w", store.ErrTaskNotFound)))
	assert.False(t, postgres.IsNotFoundError(store.ErrDuplicate))
	assert.False(t, postgres.IsNotFoundError(nil))
}
