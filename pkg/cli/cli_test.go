package cli

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptSnapshotsWithoutChoice(t *testing.T) {
	_, err := PromptSnapshots(nil)
	assert.True(t, errors.Is(err, errors.NotFound))

	name, err := PromptSnapshots([]string{"2024-01-01-00-00"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01-00-00", name)
}

func TestSnapshotSearcher(t *testing.T) {
	search := snapshotSearcher([]string{"2024-03-09-14-07", "Weekly-2024"})
	assert.True(t, search("03-09", 0))
	assert.False(t, search("03-09", 1))
	assert.True(t, search("weekly", 1))
}
