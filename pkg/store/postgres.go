// Copyright 2025 The Studio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/yossefc/studio/pkg/logger"
)

// Postgres is the production Store, backed by database/sql and
// github.com/lib/pq. Every conditional-lock operation runs inside a single
// SQL transaction with SELECT ... FOR UPDATE, matching the pattern the
// teacher's rate-limit and task stores use for their own read-modify-write
// cycles.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against dsn and pings it. It does not
// create or migrate tables; schema.sql is not applied here.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSONInto(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- AlignmentStore ---------------------------------------------------

func (p *Postgres) AcquireAlignmentLock(ctx context.Context, section string, chapter int, ttl time.Duration, holder string) (AlignmentRecord, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return AlignmentRecord{}, false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var rec AlignmentRecord
	var sourceHashRaw, paragraphMapRaw []byte
	var lockExpiresAt, sourceCheckedAt sql.NullTime
	var lockHolder, errMsg sql.NullString

	row := tx.QueryRowContext(ctx, `
		SELECT status, version, lock_expires_at, lock_holder, source_hash, paragraph_map,
		       source_checked_at, error, created_at, updated_at
		FROM alignments WHERE section=$1 AND chapter=$2 FOR UPDATE`, section, chapter)
	err = row.Scan(&rec.Status, &rec.Version, &lockExpiresAt, &lockHolder, &sourceHashRaw,
		&paragraphMapRaw, &sourceCheckedAt, &errMsg, &rec.CreatedAt, &rec.UpdatedAt)

	now := time.Now()

	if errors.Is(err, sql.ErrNoRows) {
		rec = NewAlignmentRecord(section, chapter)
		rec.Status = StatusBuilding
		rec.LockExpiresAt = now.Add(ttl)
		rec.LockHolder = holder
		rec.CreatedAt = now
		rec.UpdatedAt = now
		sh, _ := marshalJSON(map[string]string{})
		pm, _ := marshalJSON(map[string]map[string]ParagraphAlignment{})
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alignments (section, chapter, status, version, lock_expires_at, lock_holder,
				source_hash, paragraph_map, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			section, chapter, rec.Status, rec.Version, rec.LockExpiresAt, rec.LockHolder, sh, pm, now, now)
		if err != nil {
			return AlignmentRecord{}, false, fmt.Errorf("store: insert alignment lock: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return AlignmentRecord{}, false, fmt.Errorf("store: commit: %w", err)
		}
		return rec, true, nil
	}
	if err != nil {
		return AlignmentRecord{}, false, fmt.Errorf("store: scan alignment: %w", err)
	}

	rec.Section = section
	rec.Chapter = chapter
	rec.Error = errMsg.String
	rec.LockHolder = lockHolder.String
	if lockExpiresAt.Valid {
		rec.LockExpiresAt = lockExpiresAt.Time
	}
	if sourceCheckedAt.Valid {
		rec.SourceCheckedAt = sourceCheckedAt.Time
	}
	rec.SourceHash = map[string]string{}
	rec.ParagraphMap = map[string]map[string]ParagraphAlignment{}
	_ = unmarshalJSONInto(sourceHashRaw, &rec.SourceHash)
	_ = unmarshalJSONInto(paragraphMapRaw, &rec.ParagraphMap)

	expired := rec.Status == StatusBuilding && rec.LockExpiresAt.Before(now)
	if rec.Status != StatusBuilding || expired {
		rec.Status = StatusBuilding
		rec.LockExpiresAt = now.Add(ttl)
		rec.LockHolder = holder
		rec.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE alignments SET status=$1, lock_expires_at=$2, lock_holder=$3, updated_at=$4
			WHERE section=$5 AND chapter=$6`,
			rec.Status, rec.LockExpiresAt, rec.LockHolder, now, section, chapter)
		if err != nil {
			return AlignmentRecord{}, false, fmt.Errorf("store: update alignment lock: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return AlignmentRecord{}, false, fmt.Errorf("store: commit: %w", err)
		}
		return rec, true, nil
	}

	// status == building and the lock has not expired: fail the acquisition.
	if err := tx.Commit(); err != nil {
		return AlignmentRecord{}, false, fmt.Errorf("store: commit: %w", err)
	}
	return rec, false, nil
}

func (p *Postgres) GetAlignment(ctx context.Context, section string, chapter int) (AlignmentRecord, error) {
	var rec AlignmentRecord
	var sourceHashRaw, paragraphMapRaw []byte
	var lockExpiresAt, sourceCheckedAt sql.NullTime
	var lockHolder, errMsg sql.NullString

	row := p.db.QueryRowContext(ctx, `
		SELECT status, version, lock_expires_at, lock_holder, source_hash, paragraph_map,
		       source_checked_at, error, created_at, updated_at
		FROM alignments WHERE section=$1 AND chapter=$2`, section, chapter)
	err := row.Scan(&rec.Status, &rec.Version, &lockExpiresAt, &lockHolder, &sourceHashRaw,
		&paragraphMapRaw, &sourceCheckedAt, &errMsg, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AlignmentRecord{}, ErrNotFound
	}
	if err != nil {
		return AlignmentRecord{}, fmt.Errorf("store: scan alignment: %w", err)
	}

	rec.Section = section
	rec.Chapter = chapter
	rec.Error = errMsg.String
	rec.LockHolder = lockHolder.String
	if lockExpiresAt.Valid {
		rec.LockExpiresAt = lockExpiresAt.Time
	}
	if sourceCheckedAt.Valid {
		rec.SourceCheckedAt = sourceCheckedAt.Time
	}
	rec.SourceHash = map[string]string{}
	rec.ParagraphMap = map[string]map[string]ParagraphAlignment{}
	_ = unmarshalJSONInto(sourceHashRaw, &rec.SourceHash)
	_ = unmarshalJSONInto(paragraphMapRaw, &rec.ParagraphMap)

	if err := rec.Validate(); err != nil {
		return AlignmentRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) CompleteAlignmentBuild(ctx context.Context, section string, chapter int, sourceHash map[string]string, paragraphMap map[string]map[string]ParagraphAlignment) (AlignmentRecord, error) {
	sh, err := marshalJSON(sourceHash)
	if err != nil {
		return AlignmentRecord{}, err
	}
	pm, err := marshalJSON(paragraphMap)
	if err != nil {
		return AlignmentRecord{}, err
	}
	now := time.Now()
	_, err = p.db.ExecContext(ctx, `
		UPDATE alignments SET status=$1, source_hash=$2, paragraph_map=$3, source_checked_at=$4,
		       lock_expires_at=NULL, lock_holder=NULL, error=NULL, updated_at=$5
		WHERE section=$6 AND chapter=$7`,
		StatusReady, sh, pm, now, now, section, chapter)
	if err != nil {
		return AlignmentRecord{}, fmt.Errorf("store: complete alignment build: %w", err)
	}
	return p.GetAlignment(ctx, section, chapter)
}

func (p *Postgres) FailAlignmentBuild(ctx context.Context, section string, chapter int, errMsg string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE alignments SET status=$1, error=$2, lock_expires_at=NULL, lock_holder=NULL, updated_at=$3
		WHERE section=$4 AND chapter=$5`,
		StatusFailed, errMsg, time.Now(), section, chapter)
	if err != nil {
		return fmt.Errorf("store: fail alignment build: %w", err)
	}
	return nil
}

func (p *Postgres) TouchSourceCheckedAt(ctx context.Context, section string, chapter int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE alignments SET source_checked_at=$1 WHERE section=$2 AND chapter=$3`,
		time.Now(), section, chapter)
	if err != nil {
		return fmt.Errorf("store: touch source checked at: %w", err)
	}
	return nil
}

// --- ExplanationStore ---------------------------------------------------

func (p *Postgres) GetExplanation(ctx context.Context, section string, chapter, paragraph int, corpus string, ordinal int) (ExplanationRecord, error) {
	var rec ExplanationRecord
	row := p.db.QueryRowContext(ctx, `
		SELECT raw_text, explanation_text, content_hash, model_name, prompt_version, validated,
		       version, created_at, updated_at
		FROM corpus_archive
		WHERE section=$1 AND chapter=$2 AND paragraph=$3 AND corpus=$4 AND ordinal=$5`,
		section, chapter, paragraph, corpus, ordinal)
	err := row.Scan(&rec.RawText, &rec.ExplanationText, &rec.ContentHash, &rec.ModelName,
		&rec.PromptVersion, &rec.Validated, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ExplanationRecord{}, ErrNotFound
	}
	if err != nil {
		return ExplanationRecord{}, fmt.Errorf("store: scan explanation: %w", err)
	}
	rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal = section, chapter, paragraph, corpus, ordinal
	return rec, rec.Validate()
}

func (p *Postgres) GetLegacyExplanation(ctx context.Context, legacyKey string) (ExplanationRecord, error) {
	var rec ExplanationRecord
	row := p.db.QueryRowContext(ctx, `
		SELECT raw_text, explanation_text, content_hash, model_name, prompt_version, validated,
		       version, created_at, updated_at
		FROM explanation_cache_entries WHERE legacy_key=$1`, legacyKey)
	err := row.Scan(&rec.RawText, &rec.ExplanationText, &rec.ContentHash, &rec.ModelName,
		&rec.PromptVersion, &rec.Validated, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ExplanationRecord{}, ErrNotFound
	}
	if err != nil {
		return ExplanationRecord{}, fmt.Errorf("store: scan legacy explanation: %w", err)
	}
	return rec, rec.Validate()
}

func (p *Postgres) PutExplanation(ctx context.Context, rec ExplanationRecord) error {
	now := time.Now()
	if rec.Version == 0 {
		rec.Version = schemaVersion
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO corpus_archive (section, chapter, paragraph, corpus, ordinal, raw_text,
			explanation_text, content_hash, model_name, prompt_version, validated, version,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (section, chapter, paragraph, corpus, ordinal)
		DO UPDATE SET raw_text=EXCLUDED.raw_text, explanation_text=EXCLUDED.explanation_text,
			content_hash=EXCLUDED.content_hash, model_name=EXCLUDED.model_name,
			prompt_version=EXCLUDED.prompt_version, validated=EXCLUDED.validated,
			version=EXCLUDED.version, updated_at=$13`,
		rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal, rec.RawText,
		rec.ExplanationText, rec.ContentHash, rec.ModelName, rec.PromptVersion, rec.Validated,
		rec.Version, now)
	if err != nil {
		return fmt.Errorf("store: put explanation: %w", err)
	}
	return nil
}

func (p *Postgres) PutLegacyExplanation(ctx context.Context, legacyKey string, rec ExplanationRecord) error {
	now := time.Now()
	if rec.Version == 0 {
		rec.Version = schemaVersion
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO explanation_cache_entries (legacy_key, raw_text, explanation_text, content_hash,
			model_name, prompt_version, validated, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (legacy_key)
		DO UPDATE SET raw_text=EXCLUDED.raw_text, explanation_text=EXCLUDED.explanation_text,
			content_hash=EXCLUDED.content_hash, model_name=EXCLUDED.model_name,
			prompt_version=EXCLUDED.prompt_version, validated=EXCLUDED.validated,
			version=EXCLUDED.version, updated_at=$9`,
		legacyKey, rec.RawText, rec.ExplanationText, rec.ContentHash, rec.ModelName,
		rec.PromptVersion, rec.Validated, rec.Version, now)
	if err != nil {
		return fmt.Errorf("store: put legacy explanation: %w", err)
	}
	return nil
}

// --- CanonicalStore ---------------------------------------------------

func (p *Postgres) AcquireCanonicalLock(ctx context.Context, fingerprint string, staleAfter time.Duration) (CanonicalGuideRecord, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return CanonicalGuideRecord{}, false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanCanonical(tx.QueryRowContext(ctx, `
		SELECT fingerprint, status, section, chapter, paragraph, corpora, summary_text,
		       summary_model, validated, version, chunk_count, error, cancel_requested,
		       created_at, updated_at
		FROM canonical_guides WHERE fingerprint=$1 FOR UPDATE`, fingerprint))

	now := time.Now()

	if errors.Is(err, sql.ErrNoRows) {
		rec = NewCanonicalGuideRecord(fingerprint)
		rec.Status = StatusProcessing
		rec.CreatedAt = now
		rec.UpdatedAt = now
		corpora, _ := marshalJSON([]string{})
		_, err = tx.ExecContext(ctx, `
			INSERT INTO canonical_guides (fingerprint, status, section, chapter, paragraph,
				corpora, validated, version, chunk_count, created_at, updated_at)
			VALUES ($1,$2,'',0,0,$3,false,$4,0,$5,$5)`,
			fingerprint, rec.Status, corpora, rec.Version, now)
		// Section/chapter/paragraph are placeholder empty values ('' and 0) here; the orchestrator
		// overwrites them via CompleteCanonical once the request is known.
		if err != nil {
			return CanonicalGuideRecord{}, false, fmt.Errorf("store: insert canonical lock: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return CanonicalGuideRecord{}, false, fmt.Errorf("store: commit: %w", err)
		}
		return rec, true, nil
	}
	if err != nil {
		return CanonicalGuideRecord{}, false, fmt.Errorf("store: scan canonical: %w", err)
	}

	switch rec.Status {
	case StatusReady:
		if err := tx.Commit(); err != nil {
			return CanonicalGuideRecord{}, false, err
		}
		return rec, false, nil
	case StatusProcessing:
		if now.Sub(rec.UpdatedAt) < staleAfter {
			if err := tx.Commit(); err != nil {
				return CanonicalGuideRecord{}, false, err
			}
			return rec, false, nil
		}
		// Stale lock: fall through to re-acquire.
	}

	rec.Status = StatusProcessing
	rec.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `UPDATE canonical_guides SET status=$1, updated_at=$2 WHERE fingerprint=$3`,
		rec.Status, now, fingerprint)
	if err != nil {
		return CanonicalGuideRecord{}, false, fmt.Errorf("store: reacquire canonical lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return CanonicalGuideRecord{}, false, fmt.Errorf("store: commit: %w", err)
	}
	return rec, true, nil
}

func (p *Postgres) GetCanonical(ctx context.Context, fingerprint string) (CanonicalGuideRecord, error) {
	rec, err := scanCanonical(p.db.QueryRowContext(ctx, `
		SELECT fingerprint, status, section, chapter, paragraph, corpora, summary_text,
		       summary_model, validated, version, chunk_count, error, cancel_requested,
		       created_at, updated_at
		FROM canonical_guides WHERE fingerprint=$1`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return CanonicalGuideRecord{}, ErrNotFound
	}
	if err != nil {
		return CanonicalGuideRecord{}, err
	}
	if rec.Status == StatusReady {
		chunks, cerr := p.loadChunks(ctx, fingerprint)
		if cerr != nil {
			return CanonicalGuideRecord{}, cerr
		}
		rec.Chunks = chunks
	}
	return rec, nil
}

func (p *Postgres) loadChunks(ctx context.Context, fingerprint string) ([]ChunkRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT corpus, ordinal, raw_text, explanation_text, model_name, validated
		FROM canonical_guide_chunks WHERE fingerprint=$1 ORDER BY corpus, ordinal`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("store: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.Corpus, &c.Ordinal, &c.RawText, &c.ExplanationText, &c.ModelName, &c.Validated); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *Postgres) IsCancelRequested(ctx context.Context, fingerprint string) (bool, error) {
	var cancel bool
	err := p.db.QueryRowContext(ctx, `SELECT cancel_requested FROM canonical_guides WHERE fingerprint=$1`, fingerprint).Scan(&cancel)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: query cancel flag: %w", err)
	}
	return cancel, nil
}

func (p *Postgres) CompleteCanonical(ctx context.Context, rec CanonicalGuideRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	corpora, err := marshalJSON(rec.Corpora)
	if err != nil {
		return err
	}
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE canonical_guides SET status=$1, section=$2, chapter=$3, paragraph=$4, corpora=$5,
		       summary_text=$6, summary_model=$7, validated=$8, version=$9, chunk_count=$10,
		       error=NULL, updated_at=$11
		WHERE fingerprint=$12`,
		StatusReady, rec.Section, rec.Chapter, rec.Paragraph, corpora, rec.SummaryText,
		rec.SummaryModel, rec.Validated, rec.Version, len(rec.Chunks), now, rec.Fingerprint)
	if err != nil {
		return fmt.Errorf("store: complete canonical: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM canonical_guide_chunks WHERE fingerprint=$1`, rec.Fingerprint); err != nil {
		return fmt.Errorf("store: delete prior chunks: %w", err)
	}
	for _, c := range rec.Chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO canonical_guide_chunks (fingerprint, corpus, ordinal, raw_text,
				explanation_text, model_name, validated)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rec.Fingerprint, c.Corpus, c.Ordinal, c.RawText, c.ExplanationText, c.ModelName, c.Validated)
		if err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (p *Postgres) FailCanonical(ctx context.Context, fingerprint string, reason string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE canonical_guides SET status=$1, error=$2, updated_at=$3 WHERE fingerprint=$4`,
		StatusFailed, reason, time.Now(), fingerprint)
	if err != nil {
		logger.Component("store").Error("failed to write failure status", "fingerprint", fingerprint, "error", err)
		return fmt.Errorf("store: fail canonical: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row for scanCanonical, which is shared between
// a transactional SELECT ... FOR UPDATE and a plain read.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCanonical(row rowScanner) (CanonicalGuideRecord, error) {
	var rec CanonicalGuideRecord
	var corporaRaw []byte
	var summaryText, summaryModel, errMsg sql.NullString

	err := row.Scan(&rec.Fingerprint, &rec.Status, &rec.Section, &rec.Chapter, &rec.Paragraph,
		&corporaRaw, &summaryText, &summaryModel, &rec.Validated, &rec.Version, &rec.ChunkCount,
		&errMsg, &rec.CancelRequested, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return CanonicalGuideRecord{}, err
	}
	rec.SummaryText = summaryText.String
	rec.SummaryModel = summaryModel.String
	rec.Error = errMsg.String
	_ = unmarshalJSONInto(corporaRaw, &rec.Corpora)
	return rec, nil
}

var _ Store = (*Postgres)(nil)
