package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/redmonkez12/go-user-service/internal/auth"
	"github.com/redmonkez12/go-user-service/internal/httputil"
	"github.com/redmonkez12/go-user-service/internal/logging"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler contains HTTP handlers for the account endpoints
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateRequest represents the profile update request body. Omitted or null
// fields are left unchanged.
type UpdateRequest struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	Password  *string `json:"password,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create a new account. Username is checked for availability before email.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration data"
// @Success      201 {object} user.User
// @Failure      400 {object} httputil.ErrorResponse "Invalid body, validation error or username/email taken"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/users/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	created, err := h.service.Register(r.Context(), RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondJSON(w, created, http.StatusCreated)
}

// Login handles user login
// @Summary      User login
// @Description  Exchange username and password for a bearer access token valid for one hour
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} AccessToken
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/users/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondJSON(w, token, http.StatusOK)
}

// Me returns the authenticated user
// @Summary      Get current user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} user.User
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid token"
// @Failure      404 {object} httputil.ErrorResponse "User no longer exists"
// @Router       /api/users/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetCurrentUser(r.Context(), identity)
	if err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondJSON(w, u, http.StatusOK)
}

// Get returns any user by ID
// @Summary      Get user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "User ID"
// @Success      200 {object} user.User
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid token"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/users/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), identity, targetID)
	if err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondJSON(w, u, http.StatusOK)
}

// Update changes the caller's own profile
// @Summary      Update user
// @Description  Update any subset of username, email, password, first_name and last_name. Only the owner may update.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id      path int           true "User ID"
// @Param        request body UpdateRequest true "Fields to change"
// @Success      200 {object} user.User
// @Failure      400 {object} httputil.ErrorResponse "Invalid body, validation error or username/email taken"
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid token"
// @Failure      403 {object} httputil.ErrorResponse "Not the owner"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/users/{id} [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("invalid update request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	u, err := h.service.UpdateUser(r.Context(), identity, targetID, UpdateInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondJSON(w, u, http.StatusOK)
}

// Delete permanently removes the caller's own account
// @Summary      Delete user
// @Tags         users
// @Security     BearerAuth
// @Param        id path int true "User ID"
// @Success      204
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid token"
// @Failure      403 {object} httputil.ErrorResponse "Not the owner"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /api/users/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), identity, targetID); err != nil {
		respondServiceError(w, logger, err)
		return
	}

	httputil.RespondNoContent(w)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
	}
	return identity, ok
}

// pathID parses the {id} URL parameter. IDs that cannot name a user are
// reported as not found.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondErrorWithCode(w, ErrNotFound.Error(), httputil.CodeUserNotFound, http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// respondServiceError maps service errors to HTTP responses. Unexpected
// errors are logged and never exposed.
func respondServiceError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var validationErr *ValidationError
	var conflictErr *ConflictError

	switch {
	case errors.As(err, &validationErr):
		logger.Warn("request rejected: validation failed", "error", err.Error())
		httputil.RespondJSON(w, httputil.ErrorResponse{
			Error:  "validation failed",
			Code:   httputil.CodeValidationFailed,
			Field:  validationErr.Violations[0].Field,
			Fields: validationErr.Fields(),
		}, http.StatusBadRequest)

	case errors.As(err, &conflictErr):
		logger.Warn("request rejected: conflict", "field", conflictErr.Field)
		code := httputil.CodeUsernameExists
		if conflictErr.Field == "email" {
			code = httputil.CodeEmailExists
		}
		httputil.RespondJSON(w, httputil.ErrorResponse{
			Error: conflictErr.Error(),
			Code:  code,
			Field: conflictErr.Field,
		}, http.StatusBadRequest)

	case errors.Is(err, ErrUnauthorized):
		httputil.RespondErrorWithCode(w, "invalid credentials", httputil.CodeInvalidCredentials, http.StatusUnauthorized)

	case errors.Is(err, ErrForbidden):
		logger.Warn("request rejected: not the owner")
		httputil.RespondErrorWithCode(w, "you can only modify your own account", httputil.CodeForbidden, http.StatusForbidden)

	case errors.Is(err, ErrNotFound):
		httputil.RespondErrorWithCode(w, ErrNotFound.Error(), httputil.CodeUserNotFound, http.StatusNotFound)

	default:
		logger.Error("request failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "internal server error", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}
