package categorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chatport/internal/classify"
	"chatport/internal/manifest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Threshold = 0.7
	cfg.Concurrency = 1
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Entries: []manifest.Entry{
			{ID: "c1", Title: "Debugging a goroutine leak", Include: true, Status: manifest.StatusUnprocessed},
			{ID: "c2", Title: "Random musings", Include: true, Status: manifest.StatusUnprocessed},
			{ID: "c3", Title: "Knee pain after running", Include: true, Status: manifest.StatusUnprocessed},
		},
	}
}

func TestRunTwoPassFlow(t *testing.T) {
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "Coding", Tags: []string{"go"}, Confidence: 0.9, Rationale: "go debugging"}},
		"c2": {
			{ID: "c2", Project: "Coding", Confidence: 0.4, Rationale: "vague"},
			{ID: "c2", Project: "Health", Confidence: 0.5, Rationale: "still vague"},
		},
		"c3": {{ID: "c3", Project: "Health", Confidence: 0.95, Rationale: "injury question"}},
	}}

	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)

	m := testManifest()
	summary, err := engine.Run(context.Background(), m, []string{"Coding", "Health"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Eligible)
	assert.Equal(t, 2, summary.Assigned)
	assert.Equal(t, 0, summary.Unassigned)
	assert.Equal(t, 1, summary.SecondPass)
	assert.Equal(t, 0, summary.FailedBatches)

	assert.Equal(t, manifest.StatusAssigned, m.Entries[0].Status)
	assert.Equal(t, "Coding", m.Entries[0].Project)
	assert.Equal(t, []string{"go"}, m.Entries[0].Tags)
	require.NotNil(t, m.Entries[0].Confidence)
	assert.Equal(t, 0.9, *m.Entries[0].Confidence)

	assert.Equal(t, manifest.StatusAssigned, m.Entries[2].Status)
	assert.Equal(t, "Health", m.Entries[2].Project)

	// The uncertain entry went through pass 2 and landed in review with its
	// best guess visible but uncommitted.
	assert.Equal(t, manifest.StatusNeedsReview, m.Entries[1].Status)
	assert.Equal(t, "Health", m.Entries[1].Project)
	require.Len(t, summary.NeedsReview, 1)
	assert.Equal(t, "c2", summary.NeedsReview[0].ID)
	assert.Equal(t, "Health", summary.NeedsReview[0].Proposed)
	assert.Equal(t, 0.5, summary.NeedsReview[0].Confidence)

	// Pass 1: two batches of [2,1]. Pass 2: one batch of 1.
	calls := fake.recordedCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"c1", "c2"}, calls[0].ids)
	assert.Equal(t, []string{"c3"}, calls[1].ids)
	assert.Equal(t, []string{"c2"}, calls[2].ids)

	// The pass-2 request carries the synthesized description, not the raw
	// snippet.
	assert.Contains(t, calls[2].snippets["c2"], "First-pass assessment: vague")
	assert.Contains(t, calls[2].snippets["c2"], `proposed "Coding" at 40% confidence`)
}

func TestRunIsIdempotentWithoutForce(t *testing.T) {
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "Coding", Confidence: 0.9}},
		"c2": {{ID: "c2", Project: "Coding", Confidence: 0.9}},
		"c3": {{ID: "c3", Project: "Health", Confidence: 0.9}},
	}}
	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)

	m := testManifest()
	_, err = engine.Run(context.Background(), m, []string{"Coding", "Health"})
	require.NoError(t, err)
	first := fake.callCount()

	summary, err := engine.Run(context.Background(), m, []string{"Coding", "Health"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)
	assert.Equal(t, first, fake.callCount(), "settled entries must not be re-scored")
}

func TestRunForceResetsAndRescores(t *testing.T) {
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "Health", Confidence: 0.9}},
	}}
	cfg := testConfig()
	cfg.Force = true
	engine, err := NewEngine(fake, cfg, nil)
	require.NoError(t, err)

	conf := 0.95
	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Project: "Coding", Tags: []string{"go"}, Include: true,
			Status: manifest.StatusAssigned, Confidence: &conf, Rationale: "old"},
		{ID: "gone", Title: "t", Project: "Coding", Include: true,
			Status: manifest.StatusAssigned, Missing: true},
	}}

	summary, err := engine.Run(context.Background(), m, []string{"Coding", "Health"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Eligible, "missing entries stay out of scope even under force")
	assert.Equal(t, "Health", m.Entries[0].Project)
	assert.Equal(t, manifest.StatusAssigned, m.Entries[0].Status)
	assert.Equal(t, "Coding", m.Entries[1].Project, "missing entry untouched")
}

func TestRunDryRunPlansWithoutCallingOrMutating(t *testing.T) {
	engine, err := NewEngine(nil, Config{BatchSize: 2, Threshold: 0.7, DryRun: true}, nil)
	require.NoError(t, err)

	m := testManifest()
	summary, err := engine.Run(context.Background(), m, []string{"Coding", "Health"})
	require.NoError(t, err)

	require.Len(t, summary.Planned, 2)
	assert.Equal(t, []string{"c1", "c2"}, summary.Planned[0].IDs)
	assert.Equal(t, []string{"c3"}, summary.Planned[1].IDs)

	for _, entry := range m.Entries {
		assert.Equal(t, manifest.StatusUnprocessed, entry.Status)
		assert.Empty(t, entry.Project)
		assert.Nil(t, entry.Confidence)
	}
}

func TestRunFailedBatchRoutesToReview(t *testing.T) {
	fake := &fakeClassifier{
		results:  map[string][]classify.Result{},
		failures: 100, // every attempt fails
		err:      errors.New("model overloaded"),
	}
	cfg := testConfig()
	cfg.MaxRetries = 2
	engine, err := NewEngine(fake, cfg, nil)
	require.NoError(t, err)

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Include: true, Status: manifest.StatusUnprocessed},
	}}
	summary, err := engine.Run(context.Background(), m, []string{"Coding"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, manifest.StatusNeedsReview, m.Entries[0].Status)
	require.Len(t, summary.NeedsReview, 1)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 3, fake.callCount())
}

func TestRunMissingReplyScoresZero(t *testing.T) {
	// The reply never mentions c2; both passes tolerate the absence and the
	// entry ends up in review at zero confidence.
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "Coding", Confidence: 0.9}},
	}}
	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Include: true, Status: manifest.StatusUnprocessed},
		{ID: "c2", Title: "t", Include: true, Status: manifest.StatusUnprocessed},
	}}
	summary, err := engine.Run(context.Background(), m, []string{"Coding"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Assigned)
	assert.Equal(t, manifest.StatusNeedsReview, m.Entries[1].Status)
	require.NotNil(t, m.Entries[1].Confidence)
	assert.Equal(t, 0.0, *m.Entries[1].Confidence)
}

func TestRunHighConfidenceUnassign(t *testing.T) {
	// A confident empty project commits to unassigned without pass 2.
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "", Confidence: 0.9, Rationale: "fits nothing"}},
	}}
	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Include: true, Status: manifest.StatusUnprocessed},
	}}
	summary, err := engine.Run(context.Background(), m, []string{"Coding"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unassigned)
	assert.Equal(t, manifest.StatusUnassigned, m.Entries[0].Status)
	assert.Equal(t, 1, fake.callCount())
}

func TestRunUsesProjectDescriptions(t *testing.T) {
	fake := &describingClassifier{
		fakeClassifier: fakeClassifier{results: map[string][]classify.Result{
			"c2": {{ID: "c2", Project: "Coding", Confidence: 0.9}},
		}},
		descriptions: map[string]string{"Coding": "software work"},
	}
	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Project: "Coding", Include: true, Status: manifest.StatusAssigned},
		{ID: "c2", Title: "t", Include: true, Status: manifest.StatusUnprocessed},
	}}
	_, err = engine.Run(context.Background(), m, []string{"Coding"})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.describeCalls)
	require.Len(t, fake.sampleArg["Coding"], 1)
	assert.Equal(t, "c1", fake.sampleArg["Coding"][0].ID)

	calls := fake.recordedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]string{"Coding": "software work"}, calls[0].descriptions)
}

func TestRunSnippetFallsBackToPreview(t *testing.T) {
	fake := &fakeClassifier{results: map[string][]classify.Result{
		"c1": {{ID: "c1", Project: "Coding", Confidence: 0.9}},
		"c2": {{ID: "c2", Project: "Coding", Confidence: 0.9}},
	}}
	engine, err := NewEngine(fake, testConfig(), nil)
	require.NoError(t, err)
	engine.Snippets = map[string]string{"c1": "full user text"}

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{ID: "c1", Title: "t", Preview: "short preview", Include: true, Status: manifest.StatusUnprocessed},
		{ID: "c2", Title: "t", Preview: "only preview", Include: true, Status: manifest.StatusUnprocessed},
	}}
	_, err = engine.Run(context.Background(), m, []string{"Coding"})
	require.NoError(t, err)

	calls := fake.recordedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "full user text", calls[0].snippets["c1"])
	assert.Equal(t, "only preview", calls[0].snippets["c2"])
}

func TestRunNoProjects(t *testing.T) {
	engine, err := NewEngine(&fakeClassifier{}, testConfig(), nil)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), &manifest.Manifest{}, nil)
	assert.Error(t, err)
}

func TestNewEngineRequiresClassifier(t *testing.T) {
	_, err := NewEngine(nil, testConfig(), nil)
	assert.Error(t, err)

	_, err = NewEngine(nil, Config{DryRun: true}, nil)
	assert.NoError(t, err)
}

func TestCollectReviewItemsSortedByConfidence(t *testing.T) {
	c1, c2 := 0.6, 0.2
	entries := []manifest.Entry{
		{ID: "a", Status: manifest.StatusNeedsReview, Confidence: &c1},
		{ID: "b", Status: manifest.StatusAssigned},
		{ID: "c", Status: manifest.StatusNeedsReview, Confidence: &c2},
	}
	items := collectReviewItems(entries)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
	assert.Equal(t, 2, items[0].Index)
}
