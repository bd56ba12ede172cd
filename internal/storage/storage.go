package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mediaingest/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ErrNotFound = errors.New("storage: not found")

// Storage persists products, the fetched-file index, media records and
// variant image links. Queries use $n placeholders in ascending order so the
// same SQL runs on postgres (pgx) and sqlite3.
type Storage struct {
	pool   *pgxpool.Pool // nil for sqlite3
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

func NewStorage(ctx context.Context, driver, dsn string, log zerolog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	logger := log.With().Str("component", "storage").Logger()
	s := &Storage{driver: driver, log: logger}

	switch driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
	case DriverSQLite:
		db, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		// One connection keeps :memory: databases and the foreign_keys pragma consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.db = db
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", op, driver)
	}

	if err := runMigrations(s.db, driver, logger); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Storage) Close() {
	s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return s.db.PingContext(ctx)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Storage) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	const op = "storage.GetProduct"
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Slug, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: product %d: %w", op, id, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

func (s *Storage) UpsertProduct(ctx context.Context, p *models.Product) error {
	const op = "storage.UpsertProduct"
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, slug, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, slug = excluded.slug, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Slug, ts, ts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.UpdatedAt = ts
	return nil
}

func (s *Storage) GetStoredFile(ctx context.Context, path string) (*models.StoredFile, error) {
	const op = "storage.GetStoredFile"
	var f models.StoredFile
	err := s.db.QueryRowContext(ctx,
		`SELECT path, source_url, mime_type, size_bytes, sha256, created_at FROM stored_files WHERE path = $1`, path).
		Scan(&f.Path, &f.SourceURL, &f.MimeType, &f.Size, &f.SHA256, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, path, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &f, nil
}

func (s *Storage) SaveStoredFile(ctx context.Context, f *models.StoredFile) error {
	const op = "storage.SaveStoredFile"
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_files (path, source_url, mime_type, size_bytes, sha256, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (path) DO UPDATE SET source_url = excluded.source_url, mime_type = excluded.mime_type,
		 size_bytes = excluded.size_bytes, sha256 = excluded.sha256`,
		f.Path, f.SourceURL, f.MimeType, f.Size, f.SHA256, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClaimStoredFile records sourceURL as the owner of path unless another URL
// already owns it, and returns the row that owns path afterwards. A fresh
// claim has no digest until SaveStoredFile fills it in.
func (s *Storage) ClaimStoredFile(ctx context.Context, path, sourceURL string) (*models.StoredFile, error) {
	const op = "storage.ClaimStoredFile"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_files (path, source_url, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO NOTHING`,
		path, sourceURL, now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := s.GetStoredFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

// UpsertProductMedia stores rec keyed on (owner, collection, display order).
// It reports whether a new row was created.
func (s *Storage) UpsertProductMedia(ctx context.Context, rec *models.MediaRecord) (bool, error) {
	const op = "storage.UpsertProductMedia"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	created, err := upsertMedia(ctx, tx, rec)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// AttachVariantImage upserts the media record and then the link pointing at it
// in one transaction, so a link never exists without its record.
func (s *Storage) AttachVariantImage(ctx context.Context, rec *models.MediaRecord, link *models.VariantImageLink) (bool, error) {
	const op = "storage.AttachVariantImage"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	created, err := upsertMedia(ctx, tx, rec)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	link.MediaID = rec.ID
	ts := now()
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM variant_image_links WHERE variant_id = $1 AND display_order = $2`,
		link.VariantID, link.DisplayOrder).Scan(&link.ID, &link.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		link.CreatedAt = ts
	case err != nil:
		return false, fmt.Errorf("%s: %w", op, err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO variant_image_links (variant_id, product_id, media_id, display_order, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (variant_id, display_order) DO UPDATE SET product_id = excluded.product_id, media_id = excluded.media_id
		 RETURNING id`,
		link.VariantID, link.ProductID, link.MediaID, link.DisplayOrder, link.CreatedAt).Scan(&link.ID)
	if err != nil {
		return false, fmt.Errorf("%s: link: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

func upsertMedia(ctx context.Context, tx *sql.Tx, rec *models.MediaRecord) (bool, error) {
	ts := now()
	created := false

	var existingID int64
	createdAt := ts
	err := tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM media_records
		 WHERE owner_type = $1 AND owner_id = $2 AND collection = $3 AND display_order = $4`,
		string(rec.OwnerType), rec.OwnerID, rec.Collection, rec.DisplayOrder).Scan(&existingID, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return false, err
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO media_records (owner_type, owner_id, collection, file_name, file_path, thumbnail_path,
		   mime_type, size_bytes, display_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (owner_type, owner_id, collection, display_order) DO UPDATE SET
		   file_name = excluded.file_name, file_path = excluded.file_path, thumbnail_path = excluded.thumbnail_path,
		   mime_type = excluded.mime_type, size_bytes = excluded.size_bytes, updated_at = excluded.updated_at
		 RETURNING id`,
		string(rec.OwnerType), rec.OwnerID, rec.Collection, rec.FileName, rec.FilePath, rec.ThumbnailPath,
		rec.MimeType, rec.Size, rec.DisplayOrder, createdAt, ts).Scan(&rec.ID)
	if err != nil {
		return false, err
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = ts
	return created, nil
}

const mediaColumns = `id, owner_type, owner_id, collection, file_name, file_path, thumbnail_path,
	mime_type, size_bytes, display_order, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(row scanner, rec *models.MediaRecord) error {
	var ownerType string
	err := row.Scan(&rec.ID, &ownerType, &rec.OwnerID, &rec.Collection, &rec.FileName, &rec.FilePath,
		&rec.ThumbnailPath, &rec.MimeType, &rec.Size, &rec.DisplayOrder, &rec.CreatedAt, &rec.UpdatedAt)
	rec.OwnerType = models.OwnerKind(ownerType)
	return err
}

func (s *Storage) GetMedia(ctx context.Context, id int64) (*models.MediaRecord, error) {
	const op = "storage.GetMedia"
	var rec models.MediaRecord
	err := scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_records WHERE id = $1`, id), &rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: media %d: %w", op, id, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

// ListMedia returns the owner's media records in display order.
func (s *Storage) ListMedia(ctx context.Context, ownerType models.OwnerKind, ownerID int64) ([]models.MediaRecord, error) {
	const op = "storage.ListMedia"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mediaColumns+` FROM media_records WHERE owner_type = $1 AND owner_id = $2
		 ORDER BY display_order, id`, string(ownerType), ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := []models.MediaRecord{}
	for rows.Next() {
		var rec models.MediaRecord
		if err := scanMedia(rows, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

func (s *Storage) ListVariantImages(ctx context.Context, variantID int64) ([]models.VariantImage, error) {
	const op = "storage.ListVariantImages"
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.variant_id, l.product_id, l.media_id, l.display_order, l.created_at,
		   m.id, m.owner_type, m.owner_id, m.collection, m.file_name, m.file_path, m.thumbnail_path,
		   m.mime_type, m.size_bytes, m.display_order, m.created_at, m.updated_at
		 FROM variant_image_links l JOIN media_records m ON m.id = l.media_id
		 WHERE l.variant_id = $1 ORDER BY l.display_order, l.id`, variantID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	images := []models.VariantImage{}
	for rows.Next() {
		var img models.VariantImage
		var ownerType string
		m := &img.Media
		err := rows.Scan(&img.ID, &img.VariantID, &img.ProductID, &img.MediaID, &img.DisplayOrder, &img.CreatedAt,
			&m.ID, &ownerType, &m.OwnerID, &m.Collection, &m.FileName, &m.FilePath, &m.ThumbnailPath,
			&m.MimeType, &m.Size, &m.DisplayOrder, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.OwnerType = models.OwnerKind(ownerType)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return images, nil
}

// DeleteMedia removes a media record and any variant links to it, returning
// the deleted record.
func (s *Storage) DeleteMedia(ctx context.Context, id int64) (*models.MediaRecord, error) {
	const op = "storage.DeleteMedia"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var rec models.MediaRecord
	err = scanMedia(tx.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_records WHERE id = $1`, id), &rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: media %d: %w", op, id, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM variant_image_links WHERE media_id = $1`, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_records WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}
