package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// BlobRepository is C7's mesh-blob contract. The example corpus imports no
// cloud object-storage SDK (S3, GCS, MinIO all absent across every example
// repo), so per the "never fabricate dependencies" rule this backs the same
// save/get_url/get_urls/set_owner/list_by_owner contract with a local
// filesystem directory plus a metadata row in Postgres, rather than
// introducing an ungrounded cloud client. See DESIGN.md.
type BlobRepository struct {
	db  *sql.DB
	dir string
}

func NewBlobRepository(db *sql.DB, dir string) (*BlobRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create blob dir: %w", err)
	}
	return &BlobRepository{db: db, dir: dir}, nil
}

// Save writes content to "{uuid}.obj" under the blob directory — the same
// key scheme as original_source/src/repository/model.py's S3 adapter — and
// records the blob against messageID.
func (r *BlobRepository) Save(ctx context.Context, messageID string, content []byte) (*chatmodel.MeshBlob, error) {
	blob := &chatmodel.MeshBlob{ID: uuid.NewString(), MessageID: messageID}
	filename := blob.ID + ".obj"

	if err := os.WriteFile(filepath.Join(r.dir, filename), content, 0o644); err != nil {
		return nil, fmt.Errorf("repository: write blob: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO mesh_blobs (id, message_id, path) VALUES ($1, $2, $3) RETURNING created_at`,
		blob.ID, blob.MessageID, filename,
	)
	if err := row.Scan(&blob.CreatedAt); err != nil {
		return nil, fmt.Errorf("repository: record blob: %w", err)
	}
	blob.URL = urlFor(blob.ID)
	return blob, nil
}

func urlFor(id string) string {
	return "/blobs/" + id + ".obj"
}

func (r *BlobRepository) GetURL(ctx context.Context, id string) (string, error) {
	var exists bool
	row := r.db.QueryRowContext(ctx, `SELECT true FROM mesh_blobs WHERE id = $1`, id)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("repository: get blob url: %w", err)
	}
	return urlFor(id), nil
}

func (r *BlobRepository) GetURLs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		url, err := r.GetURL(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = url
	}
	return out, nil
}

// SetOwner transfers ownership of a blob, or clears it when owner is "".
func (r *BlobRepository) SetOwner(ctx context.Context, id string, owner string) error {
	var ownerArg interface{}
	if owner != "" {
		ownerArg = owner
	}
	res, err := r.db.ExecContext(ctx, `UPDATE mesh_blobs SET owner_id = $1 WHERE id = $2`, ownerArg, id)
	if err != nil {
		return fmt.Errorf("repository: set blob owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: set blob owner: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *BlobRepository) ListByOwner(ctx context.Context, owner string) ([]chatmodel.MeshBlob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, message_id, owner_id, path, created_at FROM mesh_blobs WHERE owner_id = $1 ORDER BY created_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: list blobs by owner: %w", err)
	}
	defer rows.Close()

	var out []chatmodel.MeshBlob
	for rows.Next() {
		var b chatmodel.MeshBlob
		var ownerID sql.NullString
		var path string
		if err := rows.Scan(&b.ID, &b.MessageID, &ownerID, &path, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan blob: %w", err)
		}
		b.OwnerID = ownerID.String
		b.URL = urlFor(b.ID)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Dir exposes the backing directory so the HTTP layer can serve blob files
// directly.
func (r *BlobRepository) Dir() string {
	return r.dir
}
