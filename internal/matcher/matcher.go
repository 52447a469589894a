// Package matcher implements auto-matching of parsed media against an
// external catalog: per-media candidate generation via title normalization
// and bigram similarity, confidence gating, candidate persistence, and
// episode sub-resolution.
package matcher

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/recelilious/Anicargo/internal/catalog"
	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/parser"
	"github.com/recelilious/Anicargo/internal/store"
)

// Params are auto_match_all's tunable parameters, defaulting to
// {8, 0.5, 0.9} when zero-valued fields are left unset by the caller.
type Params struct {
	Limit int
	MinCandidateScore float64
	MinConfidence float64
}

// DefaultParams returns the built-in defaults.
func DefaultParams() Params {
	return Params{Limit: 8, MinCandidateScore: 0.5, MinConfidence: 0.9}
}

// ApplyOverrides returns p with each field replaced by override's
// corresponding field wherever that field is non-zero.
func (p Params) ApplyOverrides(override Params) Params {
	out := p
	if override.Limit != 0 {
		out.Limit = override.Limit
	}
	if override.MinCandidateScore != 0 {
		out.MinCandidateScore = override.MinCandidateScore
	}
	if override.MinConfidence != 0 {
		out.MinConfidence = override.MinConfidence
	}
	return out
}

// Summary is auto_match_all's result.
type Summary struct {
	Scanned int
	Candidates int
	Matched int
	Skipped int
}

// Matcher orchestrates auto-match runs against a Store and a catalog.Client.
type Matcher struct {
	store *store.Store
	catalog catalog.Client
}

func New(s *store.Store, c catalog.Client) *Matcher {
	return &Matcher{store: s, catalog: c}
}

// AutoMatchAll runs the algorithm over every parsed media row.
func (m *Matcher) AutoMatchAll(ctx context.Context, params Params) (Summary, error) {
	p := DefaultParams().ApplyOverrides(params)
	var summary Summary

	rows, err := m.store.ListParsedMedia(ctx, 0)
	if err != nil {
		return summary, fmt.Errorf("matcher: list parsed media: %w", err)
	}

	logger := log.WithComponent("matcher")

	for _, row := range rows {
		summary.Scanned++

		isManual, err := m.store.IsManualMatch(ctx, row.ID)
		if err != nil {
			logger.Warn().Err(err).Str("media_id", row.ID).Msg("check manual match failed")
			summary.Skipped++
			continue
		}
		if isManual {
			summary.Skipped++
			continue
		}

		// A re-run must never leave a stale auto match behind: clear any
		// existing non-manual match up front, before re-evaluating.
		if err := m.store.ClearMatch(ctx, row.ID); err != nil {
			logger.Warn().Err(err).Str("media_id", row.ID).Msg("clear stale match failed")
		}

		title := strings.TrimSpace(row.Parse.AnimeTitle)
		if title == "" {
			summary.Skipped++
			continue
		}

		page, err := m.catalog.Search(ctx, title, p.Limit)
		if err != nil {
			logger.Warn().Err(err).Str("media_id", row.ID).Msg("catalog search failed")
			summary.Skipped++
			continue
		}

		var candidates []store.MatchCandidate
		var best *store.MatchCandidate
		var bestReason string

		for _, subj := range page.Subjects {
			if err := m.store.UpsertSubject(ctx, catalog.ToStoreSubject(subj)); err != nil {
				logger.Warn().Err(err).Int64("subject_id", subj.ID).Msg("cache subject failed")
				continue
			}

			score, reason := scoreSubject(title, row.Parse.AnimeYear, subj)
			if score < p.MinCandidateScore {
				continue
			}
			c := store.MatchCandidate{MediaID: row.ID, SubjectID: subj.ID, Confidence: score, Reason: reason}
			candidates = append(candidates, c)
			if best == nil || score > best.Confidence {
				cCopy := c
				best = &cCopy
				bestReason = reason
			}
		}

		if err := m.store.ReplaceCandidates(ctx, row.ID, candidates); err != nil {
			logger.Warn().Err(err).Str("media_id", row.ID).Msg("persist candidates failed")
		}
		summary.Candidates += len(candidates)

		if best == nil || best.Confidence < p.MinConfidence {
			continue
		}

		match := store.MediaMatch{MediaID: row.ID, SubjectID: best.SubjectID, Confidence: &best.Confidence, Reason: bestReason}

		if row.Parse.EpisodeNumber != "" {
			episodeID, epReason, err := m.resolveEpisode(ctx, best.SubjectID, row.Parse.EpisodeNumber)
			if err != nil {
				logger.Warn().Err(err).Str("media_id", row.ID).Msg("episode resolution failed")
			} else if episodeID != nil {
				match.EpisodeID = episodeID
				if epReason != "" {
					match.Reason = match.Reason + "; " + epReason
				}
			}
		}

		if err := m.store.UpsertAutoMatch(ctx, match); err != nil {
			logger.Warn().Err(err).Str("media_id", row.ID).Msg("persist match failed")
			continue
		}
		summary.Matched++
	}

	return summary, nil
}

// resolveEpisode picks the cached episode whose ep (falling back to sort) is
// closest to the parsed numeric episode value.
func (m *Matcher) resolveEpisode(ctx context.Context, subjectID int64, parsedEpisode string) (*int64, string, error) {
	target, ok := parser.EpisodeAsFloat(parsedEpisode)
	if !ok {
		return nil, "", nil // e.g. "SP": no numeric target, no episode assigned
	}

	count, err := m.store.CountEpisodes(ctx, subjectID)
	if err != nil {
		return nil, "", err
	}
	if count == 0 {
		episodes, err := m.catalog.GetEpisodes(ctx, subjectID)
		if err != nil {
			return nil, "", err
		}
		converted := make([]store.CatalogEpisode, 0, len(episodes))
		for _, e := range episodes {
			converted = append(converted, catalog.ToStoreEpisode(subjectID, e))
		}
		if err := m.store.UpsertEpisodes(ctx, subjectID, converted); err != nil {
			return nil, "", err
		}
	}

	episodes, err := m.store.ListEpisodes(ctx, subjectID)
	if err != nil {
		return nil, "", err
	}

	var closestID *int64
	var closestDelta = -1.0
	for _, ep := range episodes {
		val := ep.Sort
		if ep.Ep != nil {
			val = *ep.Ep
		}
		delta := val - target
		if delta < 0 {
			delta = -delta
		}
		if closestDelta < 0 || delta < closestDelta {
			id := ep.ID
			closestID = &id
			closestDelta = delta
		}
		if delta <= 0.01 {
			// exact match wins immediately
			return &ep.ID, fmt.Sprintf("episode exact: Δ=%.2f", delta), nil
		}
	}

	if closestID != nil && closestDelta <= 1.0 {
		if closestDelta > 0.01 {
			return closestID, fmt.Sprintf("episode fallback: Δ=%.2f", closestDelta), nil
		}
		return closestID, fmt.Sprintf("episode exact: Δ=%.2f", closestDelta), nil
	}
	return nil, "", nil
}

// scoreSubject computes score(title, year, subject).
func scoreSubject(title, year string, subj catalog.Subject) (float64, string) {
	nt := normalize(title)
	nName := normalize(subj.Name)
	nNameCN := ""
	if subj.NameCN != "" {
		nNameCN = normalize(subj.NameCN)
	}

	simName := sim(nt, nName)
	simCN := 0.0
	if nNameCN != "" {
		simCN = sim(nt, nNameCN)
	}

	base := simName
	via := "name"
	if simCN > base {
		base = simCN
		via = "name_cn"
	}

	reason := fmt.Sprintf("base=%.2f via=%s", base, via)

	if year != "" && strings.HasPrefix(subj.AirDate, year) {
		boosted := base + 0.05
		if boosted > 1 {
			boosted = 1
		}
		reason = fmt.Sprintf("%s year_boost=+0.05 (air_date=%s)", reason, subj.AirDate)
		return boosted, reason
	}
	return base, reason
}

// normalize keeps alphanumerics only, lowercased, after a Unicode NFKC fold
// (so full-width variants collapse to their ASCII equivalents) and a mapping
// of the multiplication sign "×", which NFKC leaves as is, to "x".
func normalize(s string) string {
	folded := strings.ReplaceAll(norm.NFKC.String(s), "×", "x")
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// sim computes the similarity measure: 0 for either empty, 1 for
// equality, 0.85 for containment, else Dice's coefficient over character
// bigrams with greedy one-to-one matching.
func sim(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.85
	}
	return diceBigram(a, b)
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return []string{s}
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

// diceBigram computes 2*|A∩B| / (|A|+|B|) with greedy one-to-one bigram
// matching: each bigram in a can be matched against at most one unused
// bigram in b.
func diceBigram(a, b string) float64 {
	ag := bigrams(a)
	bg := bigrams(b)
	if len(ag) == 0 || len(bg) == 0 {
		return 0
	}

	used := make([]bool, len(bg))
	matches := 0
	for _, x := range ag {
		for j, y := range bg {
			if !used[j] && x == y {
				used[j] = true
				matches++
				break
			}
		}
	}
	return 2 * float64(matches) / float64(len(ag)+len(bg))
}
