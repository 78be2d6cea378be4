// auth.go - Bearer-token authentication.
//
// Login issues a short-lived HS256 JWT whose subject is the user id.
// The same token doubles as the in-band credential for websocket
// authentication, verified through the session registry's Verifier.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"secure-file-share/internal/session"
)

// AuthConfig holds token signing material and the DB used to resolve
// users. Unit tests construct this directly.
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
	DB       *sql.DB
}

func (a AuthConfig) ttl() time.Duration {
	if a.TokenTTL <= 0 {
		return 30 * time.Minute
	}
	return a.TokenTTL
}

func (a AuthConfig) secretBytes() []byte {
	return []byte(a.Secret)
}

// makeToken signs an access token for userID.
func (a AuthConfig) makeToken(userID string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl())),
	})
	return tok.SignedString(a.secretBytes())
}

// verifyToken parses and validates a token, returning the user id.
func (a AuthConfig) verifyToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secretBytes(), nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// Verifier adapts AuthConfig to the session registry's credential
// check: the websocket client presents its login JWT in-band.
func (a AuthConfig) Verifier() session.Verifier {
	return tokenVerifier{auth: a}
}

type tokenVerifier struct {
	auth AuthConfig
}

func (v tokenVerifier) VerifyCredential(credential string) (session.Identity, error) {
	userID, err := v.auth.verifyToken(credential)
	if err != nil {
		return session.Identity{}, session.ErrInvalidCredential
	}

	var id session.Identity
	err = v.auth.DB.QueryRow(
		`SELECT id, email, name FROM users WHERE id = $1`,
		userID,
	).Scan(&id.UserID, &id.Email, &id.DisplayName)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Identity{}, session.ErrUnknownUser
		}
		log.Printf("auth: verifier db query failed: %v", err)
		return session.Identity{}, session.ErrUnknownUser
	}
	return id, nil
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        userResp `json:"user"`
}

// loginHandler checks email+password against the users table and
// issues an access token.
func (a AuthConfig) loginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))

		var (
			id           string
			email        string
			name         string
			passwordHash string
		)
		err := a.DB.QueryRow(
			`SELECT id, email, name, password_hash FROM users WHERE email = $1`,
			req.Email,
		).Scan(&id, &email, &name, &passwordHash)
		if err != nil {
			if err != sql.ErrNoRows {
				log.Printf("login: db query failed: %v", err)
			}
			// Same answer for unknown user and wrong password.
			http.Error(w, "incorrect email or password", http.StatusUnauthorized)
			return
		}

		if !verifyPassword(req.Password, passwordHash) {
			http.Error(w, "incorrect email or password", http.StatusUnauthorized)
			return
		}

		tok, err := a.makeToken(id)
		if err != nil {
			log.Printf("login: token signing failed: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}

		GetMetrics().RecordLogin()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResp{
			AccessToken: tok,
			TokenType:   "bearer",
			User:        userResp{ID: id, Email: email, Name: name},
		})
	})
}

type ctxUserKey struct{}

// requireAuth extracts and verifies the Bearer token, storing the user
// id in the request context.
func (a AuthConfig) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := a.verifyToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUserID returns the authenticated user id placed in the
// context by requireAuth.
func currentUserID(r *http.Request) string {
	if v, ok := r.Context().Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}
