package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"secure-file-share/internal/envelope"
	"secure-file-share/internal/notify"
)

// fileResp is the JSON representation of a file record.
type fileResp struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Encrypted   bool   `json:"encrypted"`
	OwnerID     string `json:"owner_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// uploadHandler handles POST /files/upload multipart requests.
//
// Ordering matters here: the file is sealed and its metadata row
// (including the encoded data key) is committed BEFORE the blob write,
// so a record and its key can never be split by a partial failure. The
// blob write is best-effort-after-commit; if it fails the row is
// flipped to 'failed' and the client sees an error. Rows stuck in
// 'pending' or 'failed' point at blobs that may not exist and need
// out-of-band reconciliation.
func (cfg Config) uploadHandler(notifier *notify.Notifier) http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}

		var (
			fileName    string
			contentType string
			plaintext   []byte
		)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, "bad multipart", http.StatusBadRequest)
				return
			}
			if part.FormName() != "file" {
				_ = part.Close()
				continue
			}
			fileName = part.FileName()
			contentType = part.Header.Get("Content-Type")
			plaintext, err = io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				if _, ok := err.(*http.MaxBytesError); ok {
					http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "read failed", http.StatusBadRequest)
				return
			}
			break
		}

		if fileName == "" {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		ownerID := currentUserID(r)
		rid := RequestIDFromContext(r.Context())

		// One fresh key per file, sealed before anything is stored.
		key, err := envelope.GenerateKey()
		if err != nil {
			httpError(w, r, err)
			return
		}
		sealed, err := envelope.Seal(plaintext, key)
		if err != nil {
			httpError(w, r, err)
			return
		}

		id := uuid.New()
		objectKey := "files/" + id.String()
		createdAt := time.Now().UTC()

		// Metadata and key commit together, ahead of the blob write.
		tx, err := cfg.DB.Begin()
		if err != nil {
			httpError(w, r, err)
			return
		}
		_, err = tx.Exec(`
			INSERT INTO files (id, name, size_bytes, content_type, encrypted, encryption_key, object_key, owner_id, status, created_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, 'pending', $8)
		`, id, fileName, int64(len(plaintext)), contentType, envelope.EncodeKey(key), objectKey, ownerID, createdAt)
		if err == nil {
			err = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
		if err != nil {
			log.Printf("rid=%s msg=file_insert_failed err=%v", rid, err)
			httpError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		_, err = cfg.Minio.PutObject(
			ctx,
			cfg.Bucket,
			objectKey,
			bytes.NewReader(sealed),
			int64(len(sealed)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"},
		)
		if err != nil {
			// Metadata committed but the blob never landed: mark the
			// row so reconciliation can find it, and fail the request.
			_, _ = cfg.DB.Exec(
				`UPDATE files SET status = 'failed' WHERE id = $1 AND status = 'pending'`,
				id,
			)
			log.Printf("rid=%s msg=putobject_failed file=%s err=%v", rid, id, err)
			GetMetrics().RecordUploadError()
			http.Error(w, "upload failed", http.StatusBadGateway)
			return
		}

		_, err = cfg.DB.Exec(
			`UPDATE files SET status = 'ready' WHERE id = $1 AND status = 'pending'`,
			id,
		)
		if err != nil {
			log.Printf("rid=%s msg=file_ready_update_failed file=%s err=%v", rid, id, err)
			httpError(w, r, err)
			return
		}

		GetMetrics().RecordUpload(int64(len(plaintext)), time.Since(start))

		// The row is durable; now the owner's other devices may hear
		// about it. Fire-and-forget.
		notifier.Announce(notify.UploadCompleted{
			FileID:   id.String(),
			FileName: fileName,
			Size:     int64(len(plaintext)),
			OwnerID:  ownerID,
		}, "")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileResp{
			ID:          id.String(),
			Name:        fileName,
			Size:        int64(len(plaintext)),
			ContentType: contentType,
			Encrypted:   true,
			OwnerID:     ownerID,
			Status:      "ready",
			CreatedAt:   createdAt.Format(time.RFC3339),
		})
	}))
}
