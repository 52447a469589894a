package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/recelilious/Anicargo/internal/parser"
	"github.com/recelilious/Anicargo/internal/scanner"
)

// ScanSummary is the result of one scan_and_index run.
type ScanSummary struct {
	Scanned int
	Upserted int
	Parsed int
	Skipped int
	Removed int
}

// ScanAndIndex runs the full algorithm inside a single transaction:
// generate a scan token, list the directory, upsert each entry (re-parsing
// only when size/modified_at changed or no parse exists), then delete every
// MediaFile not observed in this scan.
func (s *Store) ScanAndIndex(ctx context.Context, mediaDir string) (ScanSummary, error) {
	var summary ScanSummary
	scanToken := strconv.FormatInt(time.Now().UnixNano(), 10)

	entries, err := scanner.Scan(ctx, mediaDir)
	if err != nil {
		return summary, fmt.Errorf("store: scan_and_index: %w", err)
	}
	summary.Scanned = len(entries)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return summary, fmt.Errorf("store: scan_and_index: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ts := time.Now().Unix()
	for _, e := range entries {
		var existingSize int64
		var existingModified int64
		row := tx.QueryRowContext(ctx, `SELECT size, modified_at FROM media_files WHERE id = ?`, e.ID)
		scanErr := row.Scan(&existingSize, &existingModified)
		rowMissing := scanErr == sql.ErrNoRows
		if scanErr != nil && !rowMissing {
			return summary, fmt.Errorf("store: scan_and_index: lookup %s: %w", e.ID, scanErr)
		}
		needsParse := rowMissing || existingSize != e.Size || existingModified != e.ModTime

		if rowMissing {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO media_files (id, path, filename, size, modified_at, last_seen_token, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.Path, e.Filename, e.Size, e.ModTime, scanToken, ts, ts)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE media_files SET path=?, filename=?, size=?, modified_at=?, last_seen_token=?, updated_at=?
				WHERE id=?`,
				e.Path, e.Filename, e.Size, e.ModTime, scanToken, ts, e.ID)
		}
		if err != nil {
			return summary, fmt.Errorf("store: scan_and_index: upsert %s: %w", e.ID, err)
		}
		summary.Upserted++

		if needsParse {
			parsed := parser.Parse(e.Filename)
			if err := upsertParseTx(ctx, tx, e.ID, parsed); err != nil {
				return summary, fmt.Errorf("store: scan_and_index: parse %s: %w", e.ID, err)
			}
			summary.Parsed++
		} else {
			summary.Skipped++
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM media_files WHERE last_seen_token != ?`, scanToken)
	if err != nil {
		return summary, fmt.Errorf("store: scan_and_index: prune: %w", err)
	}
	removed, _ := res.RowsAffected()
	summary.Removed = int(removed)

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("store: scan_and_index: commit: %w", err)
	}
	committed = true
	return summary, nil
}

func upsertParseTx(ctx context.Context, tx *sql.Tx, mediaID string, p parser.ParsedMedia) error {
	raw := make([]RawElement, 0, len(p.RawElements))
	for _, r := range p.RawElements {
		raw = append(raw, RawElement{Category: r.Category, Value: r.Value})
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO media_parses (
			media_id, parse_ok, anime_title, episode_number, episode_number_alt, episode_title,
			anime_season, anime_year, release_group, video_resolution, source, audio_term,
			video_term, subtitles, language, raw_elements, parsed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(media_id) DO UPDATE SET
			parse_ok=excluded.parse_ok, anime_title=excluded.anime_title,
			episode_number=excluded.episode_number, episode_number_alt=excluded.episode_number_alt,
			episode_title=excluded.episode_title, anime_season=excluded.anime_season,
			anime_year=excluded.anime_year, release_group=excluded.release_group,
			video_resolution=excluded.video_resolution, source=excluded.source,
			audio_term=excluded.audio_term, video_term=excluded.video_term,
			subtitles=excluded.subtitles, language=excluded.language,
			raw_elements=excluded.raw_elements, parsed_at=excluded.parsed_at`,
		mediaID, p.ParseOK, p.AnimeTitle, p.EpisodeNumber, p.EpisodeNumberAlt, p.EpisodeTitle,
		p.AnimeSeason, p.AnimeYear, p.ReleaseGroup, p.VideoResolution, p.Source, p.AudioTerm,
		p.VideoTerm, p.Subtitles, p.Language, string(rawJSON), time.Now().Unix(),
	)
	return err
}

// GetMediaFile returns a single MediaFile by id, or sql.ErrNoRows if absent.
func (s *Store) GetMediaFile(ctx context.Context, id string) (*MediaFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, size, modified_at, last_seen_token, created_at, updated_at
		FROM media_files WHERE id = ?`, id)
	var m MediaFile
	if err := row.Scan(&m.ID, &m.Path, &m.Filename, &m.Size, &m.ModifiedAt, &m.LastSeenToken, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMediaFiles returns every indexed media file joined with its parse, if any,
// ordered by filename, for the library listing endpoint.
type MediaEntryView struct {
	MediaFile
	Parse *MediaParse
}

func (s *Store) ListMediaFiles(ctx context.Context) ([]MediaEntryView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mf.id, mf.path, mf.filename, mf.size, mf.modified_at, mf.last_seen_token, mf.created_at, mf.updated_at,
			mp.media_id, mp.parse_ok, mp.anime_title, mp.episode_number, mp.episode_number_alt, mp.episode_title,
			mp.anime_season, mp.anime_year, mp.release_group, mp.video_resolution, mp.source, mp.audio_term,
			mp.video_term, mp.subtitles, mp.language, mp.raw_elements, mp.parsed_at
		FROM media_files mf
		LEFT JOIN media_parses mp ON mp.media_id = mf.id
		ORDER BY mf.filename ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list media files: %w", err)
	}
	defer rows.Close()

	var out []MediaEntryView
	for rows.Next() {
		var v MediaEntryView
		var pMediaID sql.NullString
		var pOK sql.NullBool
		var title, ep, epAlt, epTitle, season, year, group, res, src, audio, video, subs, lang, raw sql.NullString
		var parsedAt sql.NullInt64

		if err := rows.Scan(
			&v.ID, &v.Path, &v.Filename, &v.Size, &v.ModifiedAt, &v.LastSeenToken, &v.CreatedAt, &v.UpdatedAt,
			&pMediaID, &pOK, &title, &ep, &epAlt, &epTitle, &season, &year, &group, &res, &src, &audio, &video, &subs, &lang, &raw, &parsedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list media files: scan: %w", err)
		}

		if pMediaID.Valid {
			mp := &MediaParse{
				MediaID: pMediaID.String, ParseOK: pOK.Bool, AnimeTitle: title.String,
				EpisodeNumber: ep.String, EpisodeNumberAlt: epAlt.String, EpisodeTitle: epTitle.String,
				AnimeSeason: season.String, AnimeYear: year.String, ReleaseGroup: group.String,
				VideoResolution: res.String, Source: src.String, AudioTerm: audio.String,
				VideoTerm: video.String, Subtitles: subs.String, Language: lang.String, ParsedAt: parsedAt.Int64,
			}
			if raw.Valid {
				_ = json.Unmarshal([]byte(raw.String), &mp.RawElements)
			}
			v.Parse = mp
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
