package matcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recelilious/Anicargo/internal/catalog"
	"github.com/recelilious/Anicargo/internal/store"
)

// fakeCatalog is a deterministic in-memory catalog.Client stand-in so
// matcher tests don't depend on network access.
type fakeCatalog struct {
	subjects []catalog.Subject
	episodes map[int64][]catalog.Episode
}

func (f *fakeCatalog) Search(ctx context.Context, keyword string, limit int) (catalog.Page, error) {
	return catalog.Page{Subjects: f.subjects, Total: len(f.subjects)}, nil
}

func (f *fakeCatalog) GetSubject(ctx context.Context, id int64) (catalog.Subject, error) {
	for _, s := range f.subjects {
		if s.ID == id {
			return s, nil
		}
	}
	return catalog.Subject{}, nil
}

func (f *fakeCatalog) GetEpisodes(ctx context.Context, subjectID int64) ([]catalog.Episode, error) {
	return f.episodes[subjectID], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file:" + t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ep(id int64, sort float64) catalog.Episode {
	v := sort
	return catalog.Episode{ID: id, Sort: sort, Ep: &v, Name: "ep"}
}

// TestSimilarityHandlesFullWidthVariant checks that normalized title
// similarity between "Spy x Family!!" and "Spy×Family" clears 0.85.
func TestSimilarityHandlesFullWidthVariant(t *testing.T) {
	score := sim(normalize("Spy x Family!!"), normalize("Spy×Family"))
	require.GreaterOrEqual(t, score, 0.85)
}

func TestSimilarityEqualStringsIsOne(t *testing.T) {
	require.Equal(t, 1.0, sim(normalize("Frieren"), normalize("Frieren")))
}

func TestSimilarityEmptyIsZero(t *testing.T) {
	require.Equal(t, 0.0, sim("", "something"))
	require.Equal(t, 0.0, sim("something", ""))
}

func TestAutoMatchAllAssignsHighConfidenceMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(mediaDir, "[Sakurato] Spy x Family (2025) [12][AVC-8bit 1080p AAC][CHT].mp4"),
		[]byte("x"), 0o644))

	_, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)

	entries, err := s.ListParsedMedia(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	mediaID := entries[0].ID

	fc := &fakeCatalog{
		subjects: []catalog.Subject{
			{ID: 42, Name: "Spy x Family", AirDate: "2025-04-01"},
		},
		episodes: map[int64][]catalog.Episode{
			42: {ep(100, 11), ep(101, 12), ep(102, 13)},
		},
	}

	m := New(s, fc)
	summary, err := m.AutoMatchAll(ctx, Params{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scanned)
	require.Equal(t, 1, summary.Matched)

	match, err := s.GetMatch(ctx, mediaID)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, int64(42), match.SubjectID)
	require.Equal(t, "auto", match.Method)
	require.NotNil(t, match.EpisodeID)
	require.Equal(t, int64(101), *match.EpisodeID)
}

func TestAutoMatchAllSkipsManualMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mediaDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(mediaDir, "[Sakurato] Spy x Family (2025) [12][AVC-8bit 1080p AAC][CHT].mp4"),
		[]byte("x"), 0o644))
	_, err := s.ScanAndIndex(ctx, mediaDir)
	require.NoError(t, err)

	entries, err := s.ListParsedMedia(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	mediaID := entries[0].ID

	require.NoError(t, s.UpsertSubject(ctx, store.CatalogSubject{ID: 7, Name: "Spy x Family"}))
	require.NoError(t, s.SetManualMatch(ctx, mediaID, 7, nil))

	fc := &fakeCatalog{subjects: []catalog.Subject{{ID: 42, Name: "Spy x Family"}}}
	m := New(s, fc)
	summary, err := m.AutoMatchAll(ctx, Params{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Matched)

	match, err := s.GetMatch(ctx, mediaID)
	require.NoError(t, err)
	require.Equal(t, int64(7), match.SubjectID) // untouched
}

func TestEpisodeResolutionFallsBackWithinOneDelta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSubject(ctx, store.CatalogSubject{ID: 1, Name: "Show"}))
	require.NoError(t, s.UpsertEpisodes(ctx, 1, []store.CatalogEpisode{
		{ID: 1, SubjectID: 1, Sort: 1}, {ID: 2, SubjectID: 1, Sort: 2}, {ID: 3, SubjectID: 1, Sort: 4},
	}))

	m := New(s, &fakeCatalog{})
	id, reason, err := m.resolveEpisode(ctx, 1, "3")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, int64(2), *id) // closest within delta 1, not episode 3 (delta 1) vs episode 2 (delta 1, tie broken by first seen)
	require.Contains(t, reason, "episode fallback")
}

func TestEpisodeResolutionReturnsNilWhenTooFar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSubject(ctx, store.CatalogSubject{ID: 1, Name: "Show"}))
	require.NoError(t, s.UpsertEpisodes(ctx, 1, []store.CatalogEpisode{{ID: 1, SubjectID: 1, Sort: 1}}))

	m := New(s, &fakeCatalog{})
	id, _, err := m.resolveEpisode(ctx, 1, "99")
	require.NoError(t, err)
	require.Nil(t, id)
}
