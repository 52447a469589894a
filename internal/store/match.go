package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReplaceCandidates clears and persists the candidate shortlist for one
// media file ("replacing previous candidate set").
func (s *Store) ReplaceCandidates(ctx context.Context, mediaID string, candidates []MatchCandidate) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("store: replace candidates: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_candidates WHERE media_id = ?`, mediaID); err != nil {
		return fmt.Errorf("store: replace candidates: clear: %w", err)
	}
	ts := time.Now().Unix()
	for _, c := range candidates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_candidates (media_id, subject_id, confidence, reason, created_at)
			VALUES (?,?,?,?,?)`, mediaID, c.SubjectID, c.Confidence, c.Reason, ts); err != nil {
			return fmt.Errorf("store: replace candidates: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace candidates: commit: %w", err)
	}
	committed = true
	return nil
}

// ListCandidates returns a media file's candidate shortlist ordered by
// confidence descending
func (s *Store) ListCandidates(ctx context.Context, mediaID string) ([]MatchCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT media_id, subject_id, confidence, reason, created_at
		FROM match_candidates WHERE media_id = ? ORDER BY confidence DESC`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("store: list candidates: %w", err)
	}
	defer rows.Close()

	var out []MatchCandidate
	for rows.Next() {
		var c MatchCandidate
		if err := rows.Scan(&c.MediaID, &c.SubjectID, &c.Confidence, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetMatch returns the current match for a media file, or nil if none exists.
func (s *Store) GetMatch(ctx context.Context, mediaID string) (*MediaMatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT media_id, subject_id, episode_id, method, confidence, reason, updated_at
		FROM media_matches WHERE media_id = ?`, mediaID)
	var m MediaMatch
	var episodeID sql.NullInt64
	var confidence sql.NullFloat64
	var reason sql.NullString
	if err := row.Scan(&m.MediaID, &m.SubjectID, &episodeID, &m.Method, &confidence, &reason, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if episodeID.Valid {
		v := episodeID.Int64
		m.EpisodeID = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	m.Reason = reason.String
	return &m, nil
}

// UpsertAutoMatch writes an auto-match result. It is
// the caller's responsibility to have already confirmed no manual match exists.
func (s *Store) UpsertAutoMatch(ctx context.Context, m MediaMatch) error {
	m.Method = "auto"
	return s.upsertMatch(ctx, m)
}

// SetManualMatch validates subject (and episode, if present) exist in the
// local cache, then stores a sticky manual override
func (s *Store) SetManualMatch(ctx context.Context, mediaID string, subjectID int64, episodeID *int64) error {
	if _, err := s.GetSubject(ctx, subjectID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("store: set manual match: subject %d not cached", subjectID)
		}
		return fmt.Errorf("store: set manual match: lookup subject: %w", err)
	}
	if episodeID != nil {
		ep, err := s.GetEpisode(ctx, *episodeID)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("store: set manual match: episode %d not cached", *episodeID)
			}
			return fmt.Errorf("store: set manual match: lookup episode: %w", err)
		}
		if ep.SubjectID != subjectID {
			return fmt.Errorf("store: set manual match: episode %d does not belong to subject %d", *episodeID, subjectID)
		}
	}
	return s.upsertMatch(ctx, MediaMatch{
		MediaID: mediaID,
		SubjectID: subjectID,
		EpisodeID: episodeID,
		Method: "manual",
		Reason: "manual override",
	})
}

func (s *Store) upsertMatch(ctx context.Context, m MediaMatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_matches (media_id, subject_id, episode_id, method, confidence, reason, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(media_id) DO UPDATE SET
			subject_id=excluded.subject_id, episode_id=excluded.episode_id, method=excluded.method,
			confidence=excluded.confidence, reason=excluded.reason, updated_at=excluded.updated_at`,
		m.MediaID, m.SubjectID, m.EpisodeID, m.Method, m.Confidence, m.Reason, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert match %s: %w", m.MediaID, err)
	}
	return nil
}

// ClearMatch deletes the match row for a media file.
func (s *Store) ClearMatch(ctx context.Context, mediaID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media_matches WHERE media_id = ?`, mediaID)
	if err != nil {
		return fmt.Errorf("store: clear match %s: %w", mediaID, err)
	}
	return nil
}

// IsManualMatch reports whether mediaID currently has a sticky manual match,
// used by auto_match_all to decide whether to skip a media row.
func (s *Store) IsManualMatch(ctx context.Context, mediaID string) (bool, error) {
	var method string
	err := s.db.QueryRowContext(ctx, `SELECT method FROM media_matches WHERE media_id = ?`, mediaID).Scan(&method)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return method == "manual", nil
}

// ListParsedMedia returns every media file with a successful parse, the
// input set for auto_match_all.
func (s *Store) ListParsedMedia(ctx context.Context, limit int) ([]MediaEntryView, error) {
	all, err := s.ListMediaFiles(ctx)
	if err != nil {
		return nil, err
	}
	var out []MediaEntryView
	for _, v := range all {
		if v.Parse != nil && v.Parse.ParseOK {
			out = append(out, v)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
