package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestManager_Counters(t *testing.T) {
	m := NewManager()

	m.ManifestGenerated("ok", 2*time.Second)
	m.ManifestGenerated("failed", time.Second)
	m.ManifestCacheHit()
	m.SectionRefreshed("daily")
	m.ChallengeCompleted("weekly")
	m.XPAwarded(120)
	m.XPAwarded(-5)

	assert.InDelta(t, 1, testutil.ToFloat64(m.manifestGenerations.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.manifestCacheHits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sectionsRefreshed.WithLabelValues("daily")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.completions.WithLabelValues("weekly")), 0)
	assert.InDelta(t, 120, testutil.ToFloat64(m.xpAwarded), 0)
}

func TestManager_NilIsSafe(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.ManifestGenerated("ok", time.Second)
		m.ManifestCacheHit()
		m.SetStoredManifests(3)
		m.SectionRefreshed("daily")
		m.ProgressIncremented(2)
		m.ChallengeCompleted("daily")
		m.XPAwarded(10)
		m.DuplicateSighting()
	})
	assert.NotNil(t, m.Handler())
}
