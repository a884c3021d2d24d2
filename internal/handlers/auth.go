package handlers

import (
	"log"
	"net/http"

	"github.com/xelth-com/mixstationgo/internal/utils"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login authenticates an operator and hands out the bearer token the rest
// of the protocol requires.
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if err := decodeBody(req, &body); err != nil || body.Username == "" || body.Password == "" {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "username and password are required",
		}})
		return
	}

	user, err := r.users.ByUsername(body.Username)
	if err != nil || !user.IsActive || !utils.CheckPasswordHash(body.Password, user.Password) {
		respondJSON(w, http.StatusUnauthorized, apiResponse{Status: "error", Error: &apiError{
			Kind: "Unauthorized", Message: "invalid credentials",
		}})
		return
	}

	token, refreshToken, err := utils.GenerateTokens(user, r.cfg)
	if err != nil {
		log.Printf("❌ Failed to generate tokens for %s: %v", user.Username, err)
		respondJSON(w, http.StatusInternalServerError, apiResponse{Status: "error", Error: &apiError{
			Kind: "Internal", Message: "failed to generate token",
		}})
		return
	}

	if err := r.users.TouchLogin(user); err != nil {
		log.Printf("⚠️ Failed to record login for %s: %v", user.Username, err)
	}

	log.Printf("✅ Operator logged in: %s", user.Username)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":        token,
		"refreshToken": refreshToken,
		"user":         user,
	})
}
