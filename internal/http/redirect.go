package httpx

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/agromarket/marketgate/internal/domain/access"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}

// postSignInTarget picks where a fresh session lands: the requested page when
// the engine would let role through to it, otherwise the role's home.
func postSignInTarget(requested string, role domainauth.Role, policy access.Policy) string {
	target := safeRedirectPath(requested)
	u, err := url.Parse(target)
	if err != nil || target == "/" {
		return role.HomePath()
	}

	category := access.Classify(u.Path)
	if category == access.CategoryPublic || category == access.CategoryAsset {
		return role.HomePath()
	}
	d := access.Decide(access.Input{Path: u.Path, Category: category, Authenticated: true, Role: role}, policy)
	if !d.Allowed() {
		return d.Target
	}
	return target
}

// signInURL sends a browser to the sign-in page, remembering where it was going.
func signInURL(r *http.Request) string {
	next := safeRedirectPath(r.URL.RequestURI())
	if next == "/" {
		return access.SignInPath
	}
	q := url.Values{}
	q.Set("redirect_uri", next)
	return access.SignInPath + "?" + q.Encode()
}

// wantsJSON reports whether the caller is a script rather than a page load.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}
