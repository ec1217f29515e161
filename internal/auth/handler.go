package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"portfolio-identity/internal/token"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

const maxJSONBodyBytes = 1 << 20

// Handler is the JSON boundary for the auth flows. Every error body is
// {"message": string}; internal error text never leaks.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
	ReturnURL  string `json:"returnUrl"`
}

type loginResponse struct {
	AccessToken    string     `json:"access_token"`
	Expires        time.Time  `json:"expires"`
	RefreshToken   *string    `json:"refresh_token,omitempty"`
	RefreshExpires *time.Time `json:"refresh_token_expires,omitempty"`
	ReturnURL      string     `json:"returnUrl,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	pair, err := h.service.Login(r.Context(), body.Username, body.Password, body.RememberMe)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := loginResponse{
		AccessToken: pair.AccessToken,
		Expires:     pair.AccessTokenExpiry,
		ReturnURL:   body.ReturnURL,
	}
	if pair.RefreshToken != "" {
		resp.RefreshToken = &pair.RefreshToken
		resp.RefreshExpires = pair.RefreshTokenExpiry
	}

	writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	HostURL   string `json:"hostUrl"`
	ReturnURL string `json:"returnUrl"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	role, err := ParseRole(body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	result, err := h.service.Register(r.Context(), RegisterParams{
		Username:  body.Username,
		Email:     body.Email,
		Password:  body.Password,
		Role:      role,
		HostURL:   strings.TrimSpace(body.HostURL),
		ReturnURL: body.ReturnURL,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"userId":    result.AccountID,
		"returnUrl": result.ReturnURL,
	})
}

type refreshRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.AccessToken = strings.TrimSpace(body.AccessToken)
	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.AccessToken == "" || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "access and refresh tokens are required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), body.AccessToken, body.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:    pair.AccessToken,
		Expires:        pair.AccessTokenExpiry,
		RefreshToken:   &pair.RefreshToken,
		RefreshExpires: pair.RefreshTokenExpiry,
	})
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.service.Revoke(r.Context(), accountID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	accountID := strings.TrimSpace(query.Get("userId"))
	code := strings.TrimSpace(query.Get("code"))
	if accountID == "" || code == "" {
		writeError(w, http.StatusBadRequest, "userId and code are required")
		return
	}

	if err := h.service.ConfirmEmail(r.Context(), accountID, code); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "email confirmed",
		"returnUrl": query.Get("returnUrl"),
	})
}

func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	email := strings.TrimSpace(strings.ToLower(query.Get("email")))
	host := strings.TrimSpace(query.Get("host"))
	if email == "" || host == "" {
		writeError(w, http.StatusBadRequest, "email and host are required")
		return
	}

	if err := h.service.ResendConfirmation(r.Context(), email, query.Get("returnUrl"), host); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	email := strings.TrimSpace(strings.ToLower(query.Get("email")))
	host := strings.TrimSpace(query.Get("host"))
	if email == "" || host == "" {
		writeError(w, http.StatusBadRequest, "email and host are required")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), email, host); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if body.Email == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	if err := h.service.ResetPassword(r.Context(), body.Email, body.Code, body.Password); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) ChangePhone(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	newPhone := strings.TrimSpace(r.URL.Query().Get("newPhoneNumber"))
	if newPhone == "" {
		writeError(w, http.StatusBadRequest, "newPhoneNumber is required")
		return
	}

	if err := h.service.RequestPhoneChange(r.Context(), claims.Subject, newPhone); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type confirmChangePhoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

func (h *Handler) ConfirmChangePhone(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var body confirmChangePhoneRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.PhoneNumber = strings.TrimSpace(body.PhoneNumber)
	if body.PhoneNumber == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber and code are required")
		return
	}

	if err := h.service.ConfirmPhoneChange(r.Context(), claims.Subject, body.PhoneNumber, body.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var locked ErrAccountLocked
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrEmailNotConfirmed):
		writeError(w, http.StatusForbidden, "email not confirmed")
	case errors.As(err, &locked):
		retryAfter := int(time.Until(locked.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusForbidden, "account locked")
	case errors.Is(err, ErrInvalidLogin):
		writeError(w, http.StatusBadRequest, "invalid login attempt")
	case errors.Is(err, ErrInvalidRefreshToken):
		writeError(w, http.StatusBadRequest, "wrong refresh token")
	case errors.Is(err, token.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid token")
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "user with this email already exists")
	case errors.Is(err, ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "user with this username already exists")
	case errors.Is(err, ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "password does not meet requirements")
	case errors.Is(err, ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, ErrResetNotAllowed):
		writeError(w, http.StatusBadRequest, "user does not exist or email not confirmed")
	case errors.Is(err, ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "account was modified concurrently, retry")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
