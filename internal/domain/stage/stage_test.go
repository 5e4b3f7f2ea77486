package stage

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStageString verifies every stage has a distinct name.
func TestStageString(t *testing.T) {
	t.Parallel()

	seen := make(map[string]Stage)

	for s := Prepare; s <= PatchNodeConfig; s++ {
		name := s.String()
		require.NotContains(t, name, "stage(")

		_, duplicate := seen[name]
		require.False(t, duplicate, name)

		seen[name] = s
	}

	require.Equal(t, "stage(42)", Stage(42).String())
}

// TestWrap checks the stage error keeps the cause reachable.
func TestWrap(t *testing.T) {
	t.Parallel()

	require.NoError(t, Wrap(InitializeNode, nil))

	err := Wrap(DownloadSnapshot, fs.ErrNotExist)
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.EqualError(t, err, "download snapshot failed: file does not exist")

	var stageErr *Error
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, DownloadSnapshot, stageErr.Stage)
}
