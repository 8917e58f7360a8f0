package handler

import (
	"net/http"

	"github.com/go-faster/errors"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.deps.Catalog.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		if p.Active {
			out = append(out, newProductResponse(p, h.cfg.ImageBaseURL))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listGiftProducts(w http.ResponseWriter, r *http.Request) {
	gifts, err := h.deps.Catalog.ListGiftProducts(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list gift products"))
		return
	}

	out := make([]giftProductResponse, 0, len(gifts))
	for _, g := range gifts {
		if g.Active {
			out = append(out, giftProductResponse{ID: g.ID, Name: g.Name, Price: money(g.Price)})
		}
	}
	writeJSON(w, http.StatusOK, out)
}
