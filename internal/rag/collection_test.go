package rag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionName_SanitizesRunID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "run_20250101_120000_ab12", CollectionName("20250101_120000_ab12"))
	require.Equal(t, "run_my_run_id", CollectionName("My-Run.ID"))
	require.Equal(t, "run_", CollectionName(""))
}

func TestStageStepsAndNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, StageInitialize.Step())
	require.Equal(t, "starting", StageInitialize.Name())
	require.Equal(t, 1, StageStorageSetup.Step())
	require.Equal(t, 2, StageCrawlIndex.Step())
	require.Equal(t, 3, TotalSteps)
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusNotFound.Terminal())
}
