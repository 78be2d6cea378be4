package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"secure-file-share/internal/envelope"
)

// downloadHandler serves GET /files/{id}/download: fetches the sealed
// blob, opens the envelope with the key stored next to the metadata,
// and streams the plaintext. Owners and share recipients only.
func (cfg Config) downloadHandler() http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		userID := currentUserID(r)

		var (
			name        string
			sizeBytes   int64
			contentType string
			encrypted   bool
			encodedKey  sql.NullString
			objectKey   string
			ownerID     string
			status      string
		)
		err = cfg.DB.QueryRow(`
			SELECT name, size_bytes, content_type, encrypted, encryption_key, object_key, owner_id, status
			FROM files WHERE id = $1
		`, id).Scan(&name, &sizeBytes, &contentType, &encrypted, &encodedKey, &objectKey, &ownerID, &status)
		if err != nil {
			if err == sql.ErrNoRows {
				httpError(w, r, errNotFound)
				return
			}
			httpError(w, r, err)
			return
		}

		if ownerID != userID {
			var shared bool
			err = cfg.DB.QueryRow(`
				SELECT EXISTS(SELECT 1 FROM file_shares WHERE file_id = $1 AND recipient_id = $2)
			`, id, userID).Scan(&shared)
			if err != nil {
				httpError(w, r, err)
				return
			}
			if !shared {
				httpError(w, r, errAccessDenied)
				return
			}
		}

		if status != "ready" {
			http.Error(w, "file not ready", http.StatusConflict)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		obj, err := cfg.Minio.GetObject(ctx, cfg.Bucket, objectKey, minio.GetObjectOptions{})
		if err != nil {
			GetMetrics().RecordDownloadError()
			http.Error(w, "storage error", http.StatusBadGateway)
			return
		}
		defer func() { _ = obj.Close() }()

		sealed, err := io.ReadAll(obj)
		if err != nil {
			rid := RequestIDFromContext(r.Context())
			log.Printf("rid=%s msg=getobject_failed file=%s err=%v", rid, id, err)
			GetMetrics().RecordDownloadError()
			http.Error(w, "storage error", http.StatusBadGateway)
			return
		}

		plaintext := sealed
		if encrypted {
			if !encodedKey.Valid {
				// Schema forbids this; treat it as corruption.
				httpError(w, r, fmt.Errorf("file %s encrypted without key", id))
				return
			}
			key, err := envelope.DecodeKey(encodedKey.String)
			if err != nil {
				httpError(w, r, err)
				return
			}
			plaintext, err = envelope.Open(sealed, key)
			if err != nil {
				if errors.Is(err, envelope.ErrIntegrity) {
					rid := RequestIDFromContext(r.Context())
					log.Printf("rid=%s msg=integrity_failure file=%s", rid, id)
				}
				httpError(w, r, err)
				return
			}
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(plaintext)))
		// Encourage safe download behavior in browsers.
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(plaintext)

		GetMetrics().RecordDownload(int64(len(plaintext)), time.Since(start))
	}))
}
