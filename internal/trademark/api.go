package trademark

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mj-trademark/portal/internal/shared/response"
)

// Handler serves the public wizard catalog mounted at /api/trademark.
type Handler struct {
	pricing  Pricing
	statuses []StatusOption
}

// NewHandler creates a new catalog handler
func NewHandler(pricing Pricing, statuses []StatusOption) *Handler {
	return &Handler{pricing: pricing, statuses: statuses}
}

// Routes registers the catalog routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/classes", h.ListClasses)
	r.Get("/categories", h.ListCategories)
	r.Get("/pricing", h.GetPricing)
	r.Get("/statuses", h.ListStatuses)

	return r
}

func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, Classes())
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, Categories())
}

func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.pricing)
}

func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.statuses)
}
