package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/yangwenmai/draftflow/internal/model"
)

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("item not found")
	// ErrAlreadyExists is returned when creating an item whose id is taken.
	ErrAlreadyExists = errors.New("item already exists")
	// ErrVersionConflict is returned when an update was based on a stale
	// version of the item. It matches model.ErrConflict.
	ErrVersionConflict = fmt.Errorf("item was modified concurrently: %w", model.ErrConflict)
)

// Verify at compile time that Store implements all interfaces.
var (
	_ ItemReader    = (*Store)(nil)
	_ ItemWriter    = (*Store)(nil)
	_ JobRecovery   = (*Store)(nil)
	_ StatusRenamer = (*Store)(nil)
)

// Store provides data access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 3

// SchemaVersion reports the schema version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	return version, err
}

func (s *Store) migrate() error {
	// Ensure the schema_version table exists.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh database: initialize to version 0.
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	// migrations is an ordered list of migration functions.
	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: initial schema
		s.migrateV2, // v1 → v2: version stamp and text revision
		s.migrateV3, // v2 → v3: refinement job state and rendered artifact
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id            TEXT PRIMARY KEY,
		source_id     TEXT NOT NULL,
		content_type  TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		visual_status TEXT NOT NULL DEFAULT 'none',
		visual_error  TEXT,
		flagged       INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		staged_at     TEXT,
		completed_at  TEXT,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_status ON items(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_items_source ON items(source_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the optimistic concurrency stamp and text revision (v1 → v2).
func (s *Store) migrateV2() error {
	if _, err := s.db.Exec(`ALTER TABLE items ADD COLUMN version INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("add version: %w", err)
	}
	if _, err := s.db.Exec(`ALTER TABLE items ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add revision: %w", err)
	}
	return nil
}

// migrateV3 adds refinement job state and the rendered artifact (v2 → v3).
func (s *Store) migrateV3() error {
	stmts := []string{
		`ALTER TABLE items ADD COLUMN refine_status TEXT NOT NULL DEFAULT 'idle'`,
		`ALTER TABLE items ADD COLUMN refine_error TEXT`,
		`ALTER TABLE items ADD COLUMN artifact TEXT`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

var itemColumns = []string{
	"id", "source_id", "content_type", "title", "status", "visual_status", "visual_error",
	"refine_status", "refine_error", "flagged", "revision", "artifact",
	"created_at", "staged_at", "completed_at", "updated_at", "version",
}

// CreateItem inserts a new item. An existing id yields ErrAlreadyExists.
func (s *Store) CreateItem(ctx context.Context, item model.ContentItem) error {
	if item.Version == 0 {
		item.Version = 1
	}
	query, args, err := sq.Insert("items").
		Columns(itemColumns...).
		Values(itemValues(item)...).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, item.ID)
	}
	return nil
}

// GetItem returns one item.
func (s *Store) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	query, args, err := sq.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// ListItems returns items matching the given filter, flagged items first,
// then most recently updated.
func (s *Store) ListItems(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error) {
	b := sq.Select(itemColumns...).From("items")
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, st := range f.Status {
			statuses[i] = string(st)
		}
		b = b.Where(sq.Eq{"status": statuses})
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		b = b.Where(sq.Eq{"content_type": types})
	}
	if f.Flagged != nil {
		b = b.Where(sq.Eq{"flagged": boolToInt(*f.Flagged)})
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		b = b.Where(sq.Or{sq.Like{"title": like}, sq.Like{"source_id": like}})
	}
	b = b.OrderBy("flagged DESC", "updated_at DESC", "id ASC")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.ContentItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem writes every mutable field of item in one statement, provided
// the stored version still equals item.Version. On success item.Version is
// advanced to the stored value.
func (s *Store) UpdateItem(ctx context.Context, item *model.ContentItem) error {
	if item.UpdatedAt == "" {
		item.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	query, args, err := sq.Update("items").
		SetMap(map[string]interface{}{
			"title":         item.Title,
			"status":        string(item.Status),
			"visual_status": string(item.VisualStatus),
			"visual_error":  errorInfoColumn(item.VisualError),
			"refine_status": string(item.RefineStatus),
			"refine_error":  errorInfoColumn(item.RefineError),
			"flagged":       boolToInt(item.Flagged),
			"revision":      item.Revision,
			"artifact":      artifactColumn(item.Artifact),
			"staged_at":     item.StagedAt,
			"completed_at":  item.CompletedAt,
			"updated_at":    item.UpdatedAt,
			"version":       sq.Expr("version + 1"),
		}).
		Where(sq.Eq{"id": item.ID, "version": item.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetItem(ctx, item.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, item.ID, item.Version)
	}
	item.Version++
	return nil
}

// ResetStaleJobs marks jobs that were in flight when a previous process
// stopped as failed (for server restart).
func (s *Store) ResetStaleJobs(ctx context.Context, reason model.ErrorInfo) (int64, error) {
	if reason.FailedAt == "" {
		reason.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	visual := reason
	visual.FailedStep = "render"
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET visual_status = ?, visual_error = ?, updated_at = ?, version = version + 1 WHERE visual_status = ?`,
		model.VisualFailed, visual.ToJSON(), reason.FailedAt, model.VisualGenerating)
	if err != nil {
		return 0, fmt.Errorf("reset visuals: %w", err)
	}
	nv, _ := res.RowsAffected()

	refine := reason
	refine.FailedStep = "refine"
	res, err = tx.ExecContext(ctx,
		`UPDATE items SET refine_status = ?, refine_error = ?, updated_at = ?, version = version + 1 WHERE refine_status = ?`,
		model.RefineFailed, refine.ToJSON(), reason.FailedAt, model.RefineRunning)
	if err != nil {
		return 0, fmt.Errorf("reset refinements: %w", err)
	}
	nr, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return nv + nr, nil
}

// RenameStatus rewrites every stored status token from into to.
func (s *Store) RenameStatus(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, version = version + 1 WHERE status = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("rename status %s→%s: %w", from, to, err)
	}
	return res.RowsAffected()
}

// DistinctStatuses lists every status token currently stored.
func (s *Store) DistinctStatuses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT status FROM items ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of items per status.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := StatusCounts{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[model.Status(st)] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*model.ContentItem, error) {
	var (
		item                                  model.ContentItem
		visualErr, refineErr, artifact        sql.NullString
		stagedAt, completedAt                 sql.NullString
		contentType, status, visual, refineSt string
		flagged                               int
	)
	err := row.Scan(&item.ID, &item.SourceID, &contentType, &item.Title, &status, &visual, &visualErr,
		&refineSt, &refineErr, &flagged, &item.Revision, &artifact,
		&item.CreatedAt, &stagedAt, &completedAt, &item.UpdatedAt, &item.Version)
	if err != nil {
		return nil, err
	}
	item.Type = model.ContentType(contentType)
	item.Status = model.Status(status)
	item.VisualStatus = model.VisualStatus(visual)
	item.RefineStatus = model.RefineStatus(refineSt)
	item.Flagged = flagged != 0
	item.VisualError = model.ParseErrorInfo(visualErr.String)
	item.RefineError = model.ParseErrorInfo(refineErr.String)
	if stagedAt.Valid {
		item.StagedAt = &stagedAt.String
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.String
	}
	if item.Artifact, err = model.ParseArtifact(artifact.String); err != nil {
		return nil, fmt.Errorf("decode artifact of %s: %w", item.ID, err)
	}
	return &item, nil
}

func itemValues(item model.ContentItem) []interface{} {
	return []interface{}{
		item.ID, item.SourceID, string(item.Type), item.Title, string(item.Status),
		string(item.VisualStatus), errorInfoColumn(item.VisualError),
		string(item.RefineStatus), errorInfoColumn(item.RefineError),
		boolToInt(item.Flagged), item.Revision, artifactColumn(item.Artifact),
		item.CreatedAt, item.StagedAt, item.CompletedAt, item.UpdatedAt, item.Version,
	}
}

func errorInfoColumn(info *model.ErrorInfo) interface{} {
	if info == nil {
		return nil
	}
	return info.ToJSON()
}

func artifactColumn(a *model.Artifact) interface{} {
	if a == nil {
		return nil
	}
	return a.ToJSON()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
