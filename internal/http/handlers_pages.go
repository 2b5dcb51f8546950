package httpx

import (
	"net/http"

	"github.com/agromarket/marketgate/internal/domain/access"
)

var areaTitles = map[access.Category]string{
	access.CategoryAdmin:           "Administration",
	access.CategoryWholesaler:      "Wholesaler dashboard",
	access.CategoryFarmer:          "Farmer dashboard",
	access.CategoryCommercialBuyer: "Commercial buyer dashboard",
	access.CategoryBaseUser:        "My account",
}

// PageHandlers renders the area and error pages.
type PageHandlers struct {
	Renderer *TemplateRenderer
}

// Area renders the dashboard placeholder for the path's category. It is the
// checkpoint that sends anonymous visitors of protected areas to sign-in.
// Mounted behind PageGuard.
func (h *PageHandlers) Area(w http.ResponseWriter, r *http.Request) {
	v, _ := ValidityFromContext(r.Context())
	category := access.Classify(r.URL.Path)
	if !v.Authenticated && category.Protected() {
		http.Redirect(w, r, signInURL(r), http.StatusSeeOther)
		return
	}

	title, ok := areaTitles[category]
	if !ok {
		h.Error(http.StatusNotFound)(w, r)
		return
	}
	h.Renderer.Render(w, r, http.StatusOK, PageArea, PageData{
		Title:         title,
		Area:          string(category),
		Authenticated: v.Authenticated,
		Role:          string(v.Role),
		Home:          v.Role.HomePath(),
		ExpiresAt:     v.ExpiresAt,
	})
}

// Error renders a static error page with status.
func (h *PageHandlers) Error(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, _ := ValidityFromContext(r.Context())
		msg := "Something went wrong. Please try again later."
		if status == http.StatusNotFound {
			msg = "The page you are looking for does not exist."
		}
		h.Renderer.Render(w, r, status, PageError, PageData{
			Title:         http.StatusText(status),
			Status:        status,
			Message:       msg,
			Authenticated: v.Authenticated,
			Role:          string(v.Role),
			Home:          v.Role.HomePath(),
		})
	}
}
