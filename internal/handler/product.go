package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/serendib/storefront/internal/domain/product"
)

// productResponse is the JSON shape of a catalog product.
type productResponse struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Slug     string        `json:"slug"`
	Price    float64       `json:"price"`
	Category string        `json:"category"`
	Stock    int           `json:"stock"`
	Featured bool          `json:"featured"`
	Image    imageResponse `json:"image"`
}

type imageResponse struct {
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	Tablet    string `json:"tablet"`
	Desktop   string `json:"desktop"`
}

// listProducts returns the catalog, optionally limited to featured
// products via ?featured=true.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := product.Filter{
		FeaturedOnly: r.URL.Query().Get("featured") == "true",
	}

	products, err := h.products.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "list products"))
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// getProduct returns a single product by ID.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "get product"))
		return
	}

	writeJSON(w, http.StatusOK, h.toProductResponse(*p))
}

// toProductResponse converts a domain product into its JSON shape.
// Image paths are prefixed with the configured image base URL.
func (h *Handler) toProductResponse(p product.Product) productResponse {
	base := h.cfg.ImageBaseURL
	return productResponse{
		ID:       p.ID,
		Name:     p.Name,
		Slug:     p.Slug,
		Price:    p.Price.InexactFloat64(),
		Category: p.Category,
		Stock:    p.Stock,
		Featured: p.Featured,
		Image: imageResponse{
			Thumbnail: base + p.Image.Thumbnail,
			Mobile:    base + p.Image.Mobile,
			Tablet:    base + p.Image.Tablet,
			Desktop:   base + p.Image.Desktop,
		},
	}
}
