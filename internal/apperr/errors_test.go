package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindAndMessage(t *testing.T) {
	wrapped := fmt.Errorf("load group 7: %w", ErrGroupNotFound)

	assert.True(t, errors.Is(wrapped, ErrGroupNotFound))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrUserNotFound))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
}

func TestStorage(t *testing.T) {
	assert.Nil(t, Storage("noop", nil))

	err := Storage("insert message", context.DeadlineExceeded)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "storage timeout", PublicMessage(err))

	// Already classified errors pass through untouched.
	assert.Same(t, ErrNotMember, Storage("load", ErrNotMember))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInvalidTarget, KindOf(ErrInvalidTarget))
	assert.Equal(t, KindStorage, KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestPublicMessage_HidesCause(t *testing.T) {
	err := Wrap(KindInternal, "could not send", errors.New("pq: relation messages does not exist"))
	assert.Equal(t, "could not send", PublicMessage(err))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("secret detail")))
}
