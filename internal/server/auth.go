package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"punchclock/internal/db/models"
	"punchclock/internal/identity"
)

var errInvalidCredentials = errors.New("invalid credentials")

type registerRequest struct {
	StaffID     string `json:"staffId" validate:"required,min=2"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyCode string `json:"companyCode" validate:"required"`
}

type loginRequest struct {
	// Identifier is a staff id or an email address.
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type authResponse struct {
	Token   string `json:"token"`
	UserID  string `json:"userId"`
	StaffID string `json:"staffId"`
	Email   string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	// Staff ids are unique across the company roster; the check runs before
	// the insert so the caller gets a clear message instead of a constraint
	// error.
	existing, err := s.accounts.GetUserProfileByStaffID(r.Context(), req.StaffID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "staff id already registered"})
		return
	}
	existing, err = s.accounts.GetUserProfileByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile := &models.UserProfile{
		UserID:       uuid.NewString(),
		StaffID:      req.StaffID,
		Email:        req.Email,
		CompanyCode:  req.CompanyCode,
		PasswordHash: string(hash),
	}
	if err := s.accounts.CreateUserProfile(r.Context(), profile); err != nil {
		writeError(w, r, err)
		return
	}

	s.respondWithToken(w, r, profile, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	var profile *models.UserProfile
	var err error
	if strings.Contains(req.Identifier, "@") {
		profile, err = s.accounts.GetUserProfileByEmail(r.Context(), strings.ToLower(req.Identifier))
	} else {
		profile, err = s.accounts.GetUserProfileByStaffID(r.Context(), req.Identifier)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if profile == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errInvalidCredentials.Error()})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errInvalidCredentials.Error()})
		return
	}

	s.respondWithToken(w, r, profile, http.StatusOK)
}

func (s *Server) respondWithToken(w http.ResponseWriter, r *http.Request, profile *models.UserProfile, status int) {
	token, err := s.issuer.Issue(identity.User{ID: profile.UserID, Email: profile.Email})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, authResponse{
		Token:   token,
		UserID:  profile.UserID,
		StaffID: profile.StaffID,
		Email:   profile.Email,
	})
}
