package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// sharedFileResp is a file plus the identity of whoever shared it.
type sharedFileResp struct {
	fileResp
	SharedBy string `json:"shared_by"`
	SharedAt string `json:"shared_at"`
}

// listFilesHandler returns the authenticated user's own files.
func (cfg Config) listFilesHandler() http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows, err := cfg.DB.Query(`
			SELECT id, name, size_bytes, content_type, encrypted, owner_id, status, created_at
			FROM files
			WHERE owner_id = $1
			ORDER BY created_at DESC
		`, currentUserID(r))
		if err != nil {
			httpError(w, r, err)
			return
		}
		defer func() { _ = rows.Close() }()

		files := make([]fileResp, 0)
		for rows.Next() {
			var f fileResp
			var createdAt time.Time
			if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.ContentType, &f.Encrypted, &f.OwnerID, &f.Status, &createdAt); err != nil {
				httpError(w, r, err)
				return
			}
			f.CreatedAt = createdAt.UTC().Format(time.RFC3339)
			files = append(files, f)
		}
		if err := rows.Err(); err != nil {
			httpError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(files)
	}))
}

// listSharedHandler returns files other users shared with the caller.
func (cfg Config) listSharedHandler() http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows, err := cfg.DB.Query(`
			SELECT f.id, f.name, f.size_bytes, f.content_type, f.encrypted, f.owner_id, f.status, f.created_at,
			       u.name, s.created_at
			FROM file_shares s
			JOIN files f ON f.id = s.file_id
			JOIN users u ON u.id = s.shared_by
			WHERE s.recipient_id = $1
			ORDER BY s.created_at DESC
		`, currentUserID(r))
		if err != nil {
			httpError(w, r, err)
			return
		}
		defer func() { _ = rows.Close() }()

		files := make([]sharedFileResp, 0)
		for rows.Next() {
			var f sharedFileResp
			var createdAt, sharedAt time.Time
			if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.ContentType, &f.Encrypted, &f.OwnerID, &f.Status, &createdAt, &f.SharedBy, &sharedAt); err != nil {
				httpError(w, r, err)
				return
			}
			f.CreatedAt = createdAt.UTC().Format(time.RFC3339)
			f.SharedAt = sharedAt.UTC().Format(time.RFC3339)
			files = append(files, f)
		}
		if err := rows.Err(); err != nil {
			httpError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(files)
	}))
}

// deleteFileHandler removes a file the caller owns: shares go first
// (cascade), then the row, then the blob. The blob delete is
// best-effort; a leftover blob without a row is garbage, not a leak of
// plaintext, since it is still sealed.
func (cfg Config) deleteFileHandler() http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		userID := currentUserID(r)

		var ownerID, objectKey string
		err = cfg.DB.QueryRow(
			`SELECT owner_id, object_key FROM files WHERE id = $1`,
			id,
		).Scan(&ownerID, &objectKey)
		if err != nil {
			if err == sql.ErrNoRows {
				httpError(w, r, errNotFound)
				return
			}
			httpError(w, r, err)
			return
		}
		if ownerID != userID {
			httpError(w, r, errAccessDenied)
			return
		}

		// file_shares rows go with the file via ON DELETE CASCADE.
		if _, err := cfg.DB.Exec(`DELETE FROM files WHERE id = $1`, id); err != nil {
			httpError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := cfg.Minio.RemoveObject(ctx, cfg.Bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
			rid := RequestIDFromContext(r.Context())
			log.Printf("rid=%s msg=blob_delete_failed file=%s err=%v", rid, id, err)
		}

		w.WriteHeader(http.StatusNoContent)
	}))
}
