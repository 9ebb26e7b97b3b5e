package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, DatabaseError, KindOf(errors.New("boom")))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := Wrap(NotFound, "Patient/1 not found", errors.New("no rows"))
	wrapped := fmt.Errorf("read: %w", err)
	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, NotFound))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("no rows")
	err := Wrap(Gone, "deleted", cause)
	require.ErrorIs(t, err, cause)
}
