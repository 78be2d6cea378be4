package server

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResp struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// validateEmail checks if an email address is valid
func validateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// validatePassword checks password strength requirements
func validatePassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters long"
	}
	if len(password) > 128 {
		return false, "Password must be less than 128 characters"
	}
	hasNumber := regexp.MustCompile(`[0-9]`).MatchString(password)
	hasLetter := regexp.MustCompile(`[a-zA-Z]`).MatchString(password)

	if !hasNumber || !hasLetter {
		return false, "Password must contain both letters and numbers"
	}

	return true, ""
}

// validateName checks display name requirements
func validateName(name string) (bool, string) {
	if len(name) < 1 {
		return false, "Name must not be empty"
	}
	if len(name) > 100 {
		return false, "Name must be less than 100 characters"
	}
	return true, ""
}

// hashPassword generates a bcrypt hash of the password
func hashPassword(password string) (string, error) {
	// bcrypt cost of 12 is a good balance of security and performance
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword compares a password with its hash
func verifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// registerHandler handles POST /register requests for user registration.
func (cfg Config) registerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		// Sanitize inputs
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		req.Name = strings.TrimSpace(req.Name)
		req.Password = strings.TrimSpace(req.Password)

		if !validateEmail(req.Email) {
			http.Error(w, "Invalid email address", http.StatusBadRequest)
			return
		}
		if valid, msg := validateName(req.Name); !valid {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		if valid, msg := validatePassword(req.Password); !valid {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}

		passwordHash, err := hashPassword(req.Password)
		if err != nil {
			log.Printf("register: hash failed: %v", err)
			http.Error(w, "Failed to process password", http.StatusInternalServerError)
			return
		}

		userID := uuid.New()
		_, err = cfg.DB.Exec(`
			INSERT INTO users (id, email, name, password_hash)
			VALUES ($1, $2, $3, $4)
		`, userID, req.Email, req.Name, passwordHash)
		if err != nil {
			if isUniqueViolation(err) {
				http.Error(w, "Email already registered", http.StatusConflict)
				return
			}
			log.Printf("register: insert failed: %v", err)
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		log.Printf("register: created user %s (%s)", req.Name, req.Email)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(userResp{
			ID:    userID.String(),
			Email: req.Email,
			Name:  req.Name,
		})
	})
}

// meHandler returns the authenticated user's profile.
func (cfg Config) meHandler() http.Handler {
	return cfg.Auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp userResp
		err := cfg.DB.QueryRow(
			`SELECT id, email, name FROM users WHERE id = $1`,
			currentUserID(r),
		).Scan(&resp.ID, &resp.Email, &resp.Name)
		if err != nil {
			httpError(w, r, errNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}
