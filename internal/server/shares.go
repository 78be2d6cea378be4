package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"secure-file-share/internal/notify"
)

type shareReq struct {
	Email string `json:"email"`
}

type shareResp struct {
	ID          string `json:"id"`
	FileID      string `json:"file_id"`
	RecipientID string `json:"recipient_id"`
	SharedBy    string `json:"shared_by"`
	CreatedAt   string `json:"created_at"`
}

// shareHandler handles POST /files/{id}/share: the owner grants a
// registered user access by email. The share row commits before any
// notification goes out.
func (cfg Config) shareHandler(notifier *notify.Notifier) http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}

		var req shareReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if !validateEmail(req.Email) {
			http.Error(w, "invalid email address", http.StatusBadRequest)
			return
		}

		sharerID := currentUserID(r)

		var fileName, ownerID string
		err = cfg.DB.QueryRow(
			`SELECT name, owner_id FROM files WHERE id = $1`,
			fileID,
		).Scan(&fileName, &ownerID)
		if err != nil {
			if err == sql.ErrNoRows {
				httpError(w, r, errNotFound)
				return
			}
			httpError(w, r, err)
			return
		}
		if ownerID != sharerID {
			httpError(w, r, errAccessDenied)
			return
		}

		var recipientID string
		err = cfg.DB.QueryRow(
			`SELECT id FROM users WHERE email = $1`,
			req.Email,
		).Scan(&recipientID)
		if err != nil {
			if err == sql.ErrNoRows {
				httpError(w, r, errNotFound)
				return
			}
			httpError(w, r, err)
			return
		}

		var sharerName string
		if err := cfg.DB.QueryRow(`SELECT name FROM users WHERE id = $1`, sharerID).Scan(&sharerName); err != nil {
			httpError(w, r, err)
			return
		}

		shareID := uuid.New()
		createdAt := time.Now().UTC()
		_, err = cfg.DB.Exec(`
			INSERT INTO file_shares (id, file_id, recipient_id, shared_by, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, shareID, fileID, recipientID, sharerID, createdAt)
		if err != nil {
			if isUniqueViolation(err) {
				// At most one active share per (file, recipient).
				httpError(w, r, errConflict)
				return
			}
			httpError(w, r, err)
			return
		}

		log.Printf("share: file=%s recipient=%s by=%s", fileID, recipientID, sharerID)
		GetMetrics().RecordShare()

		// Share row is durable; notify the recipient's devices, plus
		// the deterministic single-connection email notice.
		notifier.Announce(notify.ShareCreated{
			FileID:      fileID.String(),
			FileName:    fileName,
			SharedBy:    sharerName,
			RecipientID: recipientID,
		}, "")
		notifier.Announce(notify.ShareNotice{
			FileID:         fileID.String(),
			FileName:       fileName,
			SharedBy:       sharerName,
			RecipientEmail: req.Email,
		}, "")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(shareResp{
			ID:          shareID.String(),
			FileID:      fileID.String(),
			RecipientID: recipientID,
			SharedBy:    sharerID,
			CreatedAt:   createdAt.Format(time.RFC3339),
		})
	}))
}
