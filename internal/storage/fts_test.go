package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/contentgraph/internal/content"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "SimpleWord",
			input:    "phishing",
			expected: []string{"phishing"},
		},
		{
			name:     "CamelCase",
			input:    "PhishingInvestigation",
			expected: []string{"investigation", "phishing", "phishinginvestigation"},
		},
		{
			name:     "DashedCommand",
			input:    "get-indicators",
			expected: []string{"get", "getindicators", "indicators"},
		},
		{
			name:     "DotNotation",
			input:    "Cortex.XDR",
			expected: []string{"cortex", "cortexxdr", "xdr"},
		},
		{
			name:     "Digits",
			input:    "Base64Decode",
			expected: []string{"64", "base", "base64decode", "decode"},
		},
		{
			name:     "Empty",
			input:    "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestScoreItem(t *testing.T) {
	t.Parallel()

	item := &content.Item{ObjectID: "PhishingInvestigation", Name: "Phishing Investigation"}

	assert.Equal(t, 2.0, scoreItem(item, []string{"phishing"}))
	assert.Equal(t, 4.0, scoreItem(item, []string{"phishing", "investigation"}))
	assert.Zero(t, scoreItem(item, []string{"malware"}))
}

func TestRankResults(t *testing.T) {
	t.Parallel()

	results := []SearchResult{
		{NodeID: "script:B", Score: 1},
		{NodeID: "script:A", Score: 1},
		{NodeID: "script:C", Score: 3},
	}
	ranked := rankResults(results, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "script:C", ranked[0].NodeID)
	assert.Equal(t, "script:A", ranked[1].NodeID)
}

func TestFTSIndex_IndexAndUnindex(t *testing.T) {
	t.Parallel()

	db, err := badger.Open(badger.DefaultOptions(filepath.Join(t.TempDir(), "fts")).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	defer db.Close()

	item := &content.Item{Type: content.TypeScript, ObjectID: "GetIndicators", Name: "GetIndicators"}
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return indexItem(txn, item)
	}))

	require.NoError(t, db.View(func(txn *badger.Txn) error {
		scores := searchTokens(txn, "indicators")
		assert.Equal(t, map[string]float64{"script:GetIndicators": 2}, scores)
		return nil
	}))

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return unindexItem(txn, item.ID())
	}))
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		assert.Empty(t, searchTokens(txn, "indicators"))
		assert.Zero(t, countPrefix(txn, "fts:"))
		return nil
	}))
}

func TestFTSIndex_ConcurrentSearch(t *testing.T) {
	t.Parallel()

	backend := NewBadgerBackend()
	require.NoError(t, backend.Initialize(filepath.Join(t.TempDir(), "badger"), false))
	defer backend.Close()

	ctx := context.Background()
	_, err := backend.BulkLoad(ctx, testGraph(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := backend.Search(ctx, "HelperScript", 5)
			assert.NoError(t, err)
			assert.NotEmpty(t, results)
		}()
	}
	wg.Wait()

}
