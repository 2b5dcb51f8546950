package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agromarket/marketgate/internal/domain/access"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	apperrors "github.com/agromarket/marketgate/internal/errors"
	"github.com/agromarket/marketgate/internal/guard"
	"github.com/agromarket/marketgate/internal/service"
	"github.com/agromarket/marketgate/internal/session"
)

// AuthHandlers provides HTTP handlers for sign-in, sign-out and session state.
type AuthHandlers struct {
	Svc      *service.AuthService
	Sessions *session.Manager
	Renderer *TemplateRenderer
	Policy   access.Policy
	Logger   *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type signInRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type signInResponse struct {
	RedirectTo string `json:"redirect_to"`
	UserType   string `json:"user_type,omitempty"`
}

// SignInPage renders the sign-in form.
// GET /signin?redirect_uri=<optional>.
func (h *AuthHandlers) SignInPage(w http.ResponseWriter, r *http.Request) {
	h.Renderer.Render(w, r, http.StatusOK, PageSignIn, PageData{
		Title:       "Sign in",
		RedirectURI: safeRedirectPath(r.URL.Query().Get("redirect_uri")),
	})
}

// SignUpPage renders the registration placeholder.
// GET /signup.
func (h *AuthHandlers) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.Renderer.Render(w, r, http.StatusOK, PageSignUp, PageData{Title: "Create an account"})
}

// SignIn exchanges credentials for a session, persists it and sends the
// browser to the role's landing page.
// POST /signin (form or JSON).
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	isJSON := wantsJSON(r)

	var in signInRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !DecodeJSON(w, r, &in) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.signInFailed(w, r, in, apperrors.Validation("malformed form"))
			return
		}
		in = signInRequest{
			Email:       r.PostForm.Get("email"),
			Password:    r.PostForm.Get("password"),
			RedirectURI: r.PostForm.Get("redirect_uri"),
		}
	}

	tokens, err := h.Svc.SignIn(ctx, domainauth.Credentials{Email: in.Email, Password: in.Password})
	if err != nil {
		h.signInFailed(w, r, in, err)
		return
	}

	store := h.Sessions.Bind(w, r)
	if err := store.SetSession(ctx, tokens); err != nil {
		h.logger().WarnContext(ctx, "sign-in returned an unusable token set", "error", err)
		h.signInFailed(w, r, in, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "sign-in failed"))
		return
	}

	role := h.Svc.ResolveRole(ctx, store.Session(ctx))
	if role.Known() {
		if err := store.CacheRole(ctx, role); err != nil {
			h.logger().WarnContext(ctx, "cache role after sign-in", "error", err)
		}
	}

	target := postSignInTarget(in.RedirectURI, role, h.Policy)
	h.logger().InfoContext(ctx, "signed in", slog.String("user_type", role.String()))

	if isJSON {
		WriteJSON(w, http.StatusOK, signInResponse{RedirectTo: target, UserType: string(role)})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandlers) signInFailed(w http.ResponseWriter, r *http.Request, in signInRequest, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "sign-in failed", "error", err)
	}
	if wantsJSON(r) {
		WriteAppError(w, err)
		return
	}

	msg := "Sign-in is temporarily unavailable. Please try again."
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
	}
	h.Renderer.Render(w, r, status, PageSignIn, PageData{
		Title:       "Sign in",
		Email:       in.Email,
		RedirectURI: safeRedirectPath(in.RedirectURI),
		Error:       msg,
	})
}

// Logout clears the session and returns to the sign-in page.
// POST /auth/logout, GET /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Svc.Logout(ctx, h.Sessions.Bind(w, r)); err != nil {
		// Cookies are gone either way; only the role cache entry may linger until its TTL.
		h.logger().WarnContext(ctx, "logout failed", "error", err)
	}

	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "success",
			"redirect_to": access.SignInPath,
		})
		return
	}
	http.Redirect(w, r, access.SignInPath, http.StatusSeeOther)
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Expired       bool   `json:"expired"`
	UserType      string `json:"user_type,omitempty"`
	Home          string `json:"home"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	ExpiresIn     int64  `json:"expires_in,omitempty"`
}

func newSessionResponse(v guard.Validity) sessionResponse {
	resp := sessionResponse{
		Authenticated: v.Authenticated,
		Expired:       v.Expired,
		Home:          access.SignInPath,
	}
	if v.Authenticated {
		resp.UserType = string(v.Role)
		resp.Home = v.Role.HomePath()
		resp.ExpiresIn = expiresInSeconds(v.ExpiresIn)
		if !v.ExpiresAt.IsZero() {
			resp.ExpiresAt = v.ExpiresAt.UnixMilli()
		}
	}
	return resp
}

// Session reports the hook's view of the session without side effects.
// GET /auth/session (behind SessionContext).
func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	v, ok := ValidityFromContext(r.Context())
	if !ok {
		v = guard.Check(h.Sessions.Now(), h.Sessions.Bind(nil, r).Session(r.Context()))
	}
	WriteJSON(w, http.StatusOK, newSessionResponse(v))
}
