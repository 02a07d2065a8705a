package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/storage"
)

func TestRunPipeline(t *testing.T) {
	t.Parallel()

	t.Run("BuildsAndLoads", func(t *testing.T) {
		t.Parallel()
		dir := writeRepo(t, demoRepo())
		store := storage.NewMemoryBackend()

		var phases []string
		b, result, err := RunPipeline(t.Context(), dir, PipelineOptions{
			Store:    store,
			Progress: func(phase string, progress float64) {
				if progress == 0 {
					phases = append(phases, phase)
				}
			},
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"Walking files", "Building graph", "Loading to storage"}, phases)
		assert.Equal(t, b.Graph().NodeCount(), result.Nodes)
		assert.Equal(t, 2, result.Failures)
		assert.Equal(t, 1, result.Duplicates)
		assert.Positive(t, result.Phantoms)
		require.NotNil(t, result.Load)
		assert.NoError(t, result.Load.Err())
		assert.Equal(t, result.Nodes, store.NodeCount())
		assert.Equal(t, result.Relationships, store.RelationshipCount())
	})

	t.Run("WithoutStore", func(t *testing.T) {
		t.Parallel()
		dir := writeRepo(t, demoRepo())

		b, result, err := RunPipeline(t.Context(), dir, PipelineOptions{})
		require.NoError(t, err)
		assert.Nil(t, result.Load)
		assert.NotNil(t, b.Graph().GetNode("integration:MyIntg"))
	})

	t.Run("MissingRepo", func(t *testing.T) {
		t.Parallel()
		_, _, err := RunPipeline(t.Context(), filepath.Join(t.TempDir(), "missing"), PipelineOptions{})
		assert.Error(t, err)
	})
}

func TestUpdatePaths(t *testing.T) {
	t.Parallel()

	dir := writeRepo(t, demoRepo())
	store := storage.NewMemoryBackend()
	b, _, err := RunPipeline(t.Context(), dir, PipelineOptions{Store: store})
	require.NoError(t, err)

	pbPath := "Packs/Demo/Playbooks/PB.yml"
	require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(pbPath)), []byte("id: PB\nname: PB\ntasks: {}\n"), 0o644))

	report, load, err := UpdatePaths(t.Context(), b, store, []string{pbPath})
	require.NoError(t, err)
	require.NotNil(t, load)
	assert.Contains(t, report.Paths, pbPath)

	ghost, err := store.GetNode(t.Context(), "playbook:GhostPB")
	require.NoError(t, err)
	assert.Nil(t, ghost, "the playbook no longer references GhostPB")
	assert.Equal(t, b.Graph().NodeCount(), store.NodeCount())
	assert.Equal(t, b.Graph().RelationshipCount(), store.RelationshipCount())
}
