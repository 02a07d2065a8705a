package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ValidationResult("BA101", "failure")
	m.ValidationResult("BA101", "failure")
	m.ValidationResult("GR107", "warning")
	m.ValidatedItems(12)
	m.LintTool("flake8", "pass")
	m.LintPackage("failed")
	m.GraphSize(40, 75)
	m.Observe("validate", time.Now().Add(-time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationResults.WithLabelValues("BA101", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationResults.WithLabelValues("GR107", "warning")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.validatedItems))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.graphEdges))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.duration.WithLabelValues("validate")), 1.0)

	t.Run("WriteFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.prom")
		require.NoError(t, m.WriteFile(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `contentgraph_validate_results_total{code="BA101",outcome="failure"} 2`)
		assert.Contains(t, string(data), "contentgraph_graph_nodes 40")
	})

	t.Run("Nil", func(t *testing.T) {
		var none *Metrics
		assert.NotPanics(t, func() {
			none.ValidationResult("BA101", "failure")
			none.LintTool("flake8", "pass")
			none.GraphSize(1, 1)
		})
		assert.NoError(t, none.WriteFile("ignored"))
		assert.Nil(t, none.Registry())
	})
}
