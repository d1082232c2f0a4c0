package errmsg

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	err := Wrap(Construction, io.ErrUnexpectedEOF, "upload filters0")
	require.Error(t, err)
	assert.Equal(t, Construction, KindOf(err))
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err.(*Error).Err))
	assert.Equal(t, "construction: upload filters0: unexpected EOF", err.Error())

	again := Wrapf(Dispatch, err, "conv %d", 2)
	assert.Equal(t, Construction, KindOf(again))
	assert.True(t, stderrors.Is(again, &Error{Kind: Construction}))
	assert.False(t, stderrors.Is(again, &Error{Kind: Dispatch}))
}

func TestNil(t *testing.T) {
	assert.NoError(t, Wrap(Bind, nil, "x"))
	assert.NoError(t, Wrapf(Bind, nil, "x %d", 1))
	assert.Equal(t, Unknown, KindOf(nil))
	assert.Equal(t, Unknown, KindOf(io.EOF))
}

func TestFatal(t *testing.T) {
	for _, k := range []Kind{Construction, Compile, Bind, Dispatch} {
		assert.True(t, k.Fatal(), k.String())
	}
	assert.False(t, Tune.Fatal())
	assert.Equal(t, Tune, KindOf(Errorf(Tune, "no candidate fits %dx%d", 1, 1)))
}
