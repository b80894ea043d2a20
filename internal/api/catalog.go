package api

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/feed"
)

const maxImportSize = 10 << 20

// ListProducts returns the seller's catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListProducts(r.Context(), GetSellerID(r.Context()))
	if err != nil {
		writeError(w, r, "failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"count":    len(products),
	})
}

// GetProduct retrieves one product by SKU.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	product, err := h.repo.FindBySku(r.Context(), GetSellerID(r.Context()), sku)
	if err != nil {
		writeError(w, r, "failed to get product", err)
		return
	}
	if product == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// SaveProduct upserts a product with its listings.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	var product domain.Product
	if err := decodeJSON(r, &product); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.SaveProduct(ctx, sellerID, &product); err != nil {
		writeError(w, r, "failed to save product", err)
		return
	}

	slog.Info("product saved", "sku", product.SKU, "seller_id", sellerID)
	writeJSON(w, http.StatusOK, &product)
}

// GetCompetitorPrices returns the observations for one SKU, newest first.
func (h *Handler) GetCompetitorPrices(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	prices, err := h.feed.PricesForSku(r.Context(), GetSellerID(r.Context()), sku)
	if err != nil {
		writeError(w, r, "failed to get competitor prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sku":    sku,
		"prices": prices,
		"count":  len(prices),
	})
}

// SaveCompetitorPrices stores a JSON array of observations.
func (h *Handler) SaveCompetitorPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	var prices []domain.CompetitorPrice
	if err := decodeJSON(r, &prices); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	for _, p := range prices {
		if !p.Marketplace.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown marketplace " + string(p.Marketplace),
			})
			return
		}
	}

	if err := h.repo.SaveCompetitorPrices(ctx, sellerID, prices); err != nil {
		writeError(w, r, "failed to save competitor prices", err)
		return
	}
	h.invalidate(r, sellerID, skusOf(prices))

	writeJSON(w, http.StatusCreated, map[string]int{"saved": len(prices)})
}

// ClearCompetitorPrices removes every observation of the seller.
func (h *Handler) ClearCompetitorPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	if err := h.repo.ClearCompetitorPrices(ctx, sellerID); err != nil {
		writeError(w, r, "failed to clear competitor prices", err)
		return
	}

	h.invalidateSeller(r, sellerID)

	slog.Info("competitor prices cleared", "seller_id", sellerID)
	w.WriteHeader(http.StatusNoContent)
}

// CompetitorTemplate serves the CSV import template.
func (h *Handler) CompetitorTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="competitor_prices_template.csv"`)
	io.WriteString(w, feed.Template)
}

// ImportCompetitorPrices accepts a CSV body or a multipart form with a "file"
// field. Valid rows are stored; invalid rows are reported with their line.
func (h *Handler) ImportCompetitorPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := GetSellerID(ctx)

	body := io.Reader(http.MaxBytesReader(w, r.Body, maxImportSize))
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field is required"})
			return
		}
		defer file.Close()
		body = file
	}

	result, err := h.importer.Import(ctx, sellerID, body)
	if err != nil {
		writeError(w, r, "failed to import competitor prices", err)
		return
	}

	status := http.StatusOK
	if result.ValidRows == 0 && len(result.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (h *Handler) invalidate(r *http.Request, sellerID string, skus []string) {
	if h.invalidator == nil || len(skus) == 0 {
		return
	}
	if err := h.invalidator.Invalidate(r.Context(), sellerID, skus...); err != nil {
		slog.Warn("failed to invalidate competitor price cache",
			"seller_id", sellerID,
			"error", err,
		)
	}
}

// sellerInvalidator is implemented by caches that can drop a whole seller at once.
type sellerInvalidator interface {
	InvalidateSeller(ctx context.Context, sellerID string) (bool, error)
}

// invalidateSeller purges the seller's cached prices, falling back to one
// invalidation per catalog SKU.
func (h *Handler) invalidateSeller(r *http.Request, sellerID string) {
	if h.invalidator == nil {
		return
	}
	if si, ok := h.invalidator.(sellerInvalidator); ok {
		done, err := si.InvalidateSeller(r.Context(), sellerID)
		if err != nil {
			slog.Warn("failed to purge competitor price cache", "seller_id", sellerID, "error", err)
		}
		if done {
			return
		}
	}

	products, err := h.repo.ListProducts(r.Context(), sellerID)
	if err != nil {
		slog.Warn("failed to list products for cache invalidation",
			"seller_id", sellerID,
			"error", err,
		)
		return
	}
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	h.invalidate(r, sellerID, skus)
}

func skusOf(prices []domain.CompetitorPrice) []string {
	seen := make(map[string]bool, len(prices))
	var skus []string
	for _, p := range prices {
		if !seen[p.SKU] {
			seen[p.SKU] = true
			skus = append(skus, p.SKU)
		}
	}
	return skus
}
