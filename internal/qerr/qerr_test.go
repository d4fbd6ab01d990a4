package qerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksTheChain(t *testing.T) {
	inner := New(KindNotFound, "column %q not found", "title")
	wrapped := fmt.Errorf("compiling: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindCompile))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindExecute, cause, "statement %q", "books")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "execute")
	assert.Contains(t, err.Error(), `statement "books"`)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOuterKindWins(t *testing.T) {
	inner := New(KindNotFound, "no such column")
	outer := Wrap(KindCompile, inner, "building filter")

	// The outermost classification is the one callers act on.
	assert.Equal(t, KindCompile, KindOf(outer))
}

func TestNotFound(t *testing.T) {
	err := NotFound("table", "ghosts")
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, `not_found: table "ghosts" not found`, err.Error())
}
