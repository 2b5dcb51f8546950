// Package access classifies request paths into audience categories and decides
// whether a session may proceed to them. Everything here is pure.
package access

import (
	"path"
	"strings"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// Category is the audience bucket a path belongs to.
type Category string

const (
	CategoryAsset           Category = "asset"
	CategoryPublic          Category = "public"
	CategoryWholesaler      Category = "wholesaler"
	CategoryFarmer          Category = "farmer"
	CategoryCommercialBuyer Category = "commercial-buyer"
	CategoryBaseUser        Category = "base-user"
	CategoryAdmin           Category = "admin"
)

// Redirect targets.
const (
	SignInPath = "/signin"
	SignUpPath = "/signup"
	RootPath   = "/"
)

// excludedPrefixes never pass through redirect logic: the API passthrough,
// static files, internal endpoints and our own auth/infra endpoints.
var excludedPrefixes = []string{
	"/api",
	"/static",
	"/_internal",
	"/auth",
	"/healthz",
	"/metrics",
	"/favicon.ico",
}

var assetExtensions = map[string]bool{
	".svg":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".ico":  true,
}

var publicPaths = []string{SignInPath, SignUpPath, "/404", "/500", "/error"}

type rolePrefix struct {
	prefix   string
	category Category
}

var rolePrefixes = []rolePrefix{
	{"/wholesaler", CategoryWholesaler},
	{"/farmer", CategoryFarmer},
	{"/commercial-buyer", CategoryCommercialBuyer},
	{"/base-user", CategoryBaseUser},
}

// Classify maps a URL path onto exactly one Category. First match wins in the
// order excluded > public > role-prefixed > admin. Matching is case-sensitive
// and prefix based: a prefix matches the path itself or any path below it.
func Classify(p string) Category {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}

	for _, prefix := range excludedPrefixes {
		if hasPathPrefix(p, prefix) {
			return CategoryAsset
		}
	}
	if assetExtensions[strings.ToLower(path.Ext(p))] {
		return CategoryAsset
	}

	for _, prefix := range publicPaths {
		if hasPathPrefix(p, prefix) {
			return CategoryPublic
		}
	}

	for _, rp := range rolePrefixes {
		if hasPathPrefix(p, rp.prefix) {
			return rp.category
		}
	}

	return CategoryAdmin
}

func hasPathPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// IsRoleArea reports whether c is one of the four role home categories.
func (c Category) IsRoleArea() bool {
	switch c {
	case CategoryWholesaler, CategoryFarmer, CategoryCommercialBuyer, CategoryBaseUser:
		return true
	default:
		return false
	}
}

// Protected reports whether the category requires a session to be useful.
func (c Category) Protected() bool {
	return c != CategoryAsset && c != CategoryPublic
}

// HomeCategory returns the category of the role's home path. Unknown roles
// have no home category and yield "".
func HomeCategory(r domainauth.Role) Category {
	switch r {
	case domainauth.RoleWholesaler:
		return CategoryWholesaler
	case domainauth.RoleFarmer:
		return CategoryFarmer
	case domainauth.RoleCommercialBuyer:
		return CategoryCommercialBuyer
	case domainauth.RoleBaseUser:
		return CategoryBaseUser
	default:
		return ""
	}
}
