package serrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/pkg/serrors"
)

func TestBaseError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	sentinel := serrors.NewError("SNAPSHOT_FORMAT", "malformed snapshot", "")
	wrapped := fmt.Errorf("%w: unexpected EOF", sentinel)

	require.ErrorIs(t, wrapped, sentinel)
	require.ErrorIs(t, wrapped, serrors.NewError("SNAPSHOT_FORMAT", "other message", ""))
	require.NotErrorIs(t, wrapped, serrors.NewError("SNAPSHOT_VERSION", "malformed snapshot", ""))
	require.Equal(t, "SNAPSHOT_FORMAT", serrors.Code(wrapped))
	require.Empty(t, serrors.Code(errors.New("plain")))
}
