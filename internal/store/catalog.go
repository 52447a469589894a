package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertSubject caches or refreshes one external-catalog subject record.
func (s *Store) UpsertSubject(ctx context.Context, subj CatalogSubject) error {
	ts := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_subjects (id, subject_type, name, name_cn, summary, air_date, total_episodes, images, payload, synced_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			subject_type=excluded.subject_type, name=excluded.name, name_cn=excluded.name_cn,
			summary=excluded.summary, air_date=excluded.air_date, total_episodes=excluded.total_episodes,
			images=excluded.images, payload=excluded.payload, synced_at=excluded.synced_at, updated_at=excluded.updated_at`,
		subj.ID, subj.SubjectType, subj.Name, subj.NameCN, subj.Summary, subj.AirDate, subj.TotalEpisodes,
		subj.Images, subj.Payload, ts, ts)
	if err != nil {
		return fmt.Errorf("store: upsert subject %d: %w", subj.ID, err)
	}
	return nil
}

// GetSubject returns a cached subject by id.
func (s *Store) GetSubject(ctx context.Context, id int64) (*CatalogSubject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_type, name, name_cn, summary, air_date, total_episodes, images, payload, synced_at, updated_at
		FROM catalog_subjects WHERE id = ?`, id)
	var subj CatalogSubject
	if err := row.Scan(&subj.ID, &subj.SubjectType, &subj.Name, &subj.NameCN, &subj.Summary, &subj.AirDate,
		&subj.TotalEpisodes, &subj.Images, &subj.Payload, &subj.SyncedAt, &subj.UpdatedAt); err != nil {
		return nil, err
	}
	return &subj, nil
}

// CountSubjects reports how many catalog subjects are cached, used by the
// metrics collector's storage gauge.
func (s *Store) CountSubjects(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_subjects`).Scan(&n)
	return n, err
}

// UpsertEpisodes replaces the cached episode set for a subject.
func (s *Store) UpsertEpisodes(ctx context.Context, subjectID int64, episodes []CatalogEpisode) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert episodes: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, ep := range episodes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_episodes (id, subject_id, episode_type, sort, ep, name, name_cn, air_date, payload)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				subject_id=excluded.subject_id, episode_type=excluded.episode_type, sort=excluded.sort,
				ep=excluded.ep, name=excluded.name, name_cn=excluded.name_cn, air_date=excluded.air_date,
				payload=excluded.payload`,
			ep.ID, subjectID, ep.EpisodeType, ep.Sort, ep.Ep, ep.Name, ep.NameCN, ep.AirDate, ep.Payload)
		if err != nil {
			return fmt.Errorf("store: upsert episode %d: %w", ep.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert episodes: commit: %w", err)
	}
	committed = true
	return nil
}

// CountEpisodes reports how many episodes are cached for a subject.
func (s *Store) CountEpisodes(ctx context.Context, subjectID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_episodes WHERE subject_id = ?`, subjectID).Scan(&n)
	return n, err
}

// ListEpisodes returns every cached episode for a subject.
func (s *Store) ListEpisodes(ctx context.Context, subjectID int64) ([]CatalogEpisode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, episode_type, sort, ep, name, name_cn, air_date, payload
		FROM catalog_episodes WHERE subject_id = ? ORDER BY sort ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var out []CatalogEpisode
	for rows.Next() {
		var ep CatalogEpisode
		var epVal sql.NullFloat64
		if err := rows.Scan(&ep.ID, &ep.SubjectID, &ep.EpisodeType, &ep.Sort, &epVal, &ep.Name, &ep.NameCN, &ep.AirDate, &ep.Payload); err != nil {
			return nil, err
		}
		if epVal.Valid {
			v := epVal.Float64
			ep.Ep = &v
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetEpisode returns a single cached episode by id, validated against the
// local cache for manual match assignment.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*CatalogEpisode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, episode_type, sort, ep, name, name_cn, air_date, payload
		FROM catalog_episodes WHERE id = ?`, id)
	var ep CatalogEpisode
	var epVal sql.NullFloat64
	if err := row.Scan(&ep.ID, &ep.SubjectID, &ep.EpisodeType, &ep.Sort, &epVal, &ep.Name, &ep.NameCN, &ep.AirDate, &ep.Payload); err != nil {
		return nil, err
	}
	if epVal.Valid {
		v := epVal.Float64
		ep.Ep = &v
	}
	return &ep, nil
}
