package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	"github.com/rakrong1/ladicare-sub000/internal/service"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
	"github.com/rakrong1/ladicare-sub000/pkg/httputil"
	"github.com/rakrong1/ladicare-sub000/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for POST /add.
type AddItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	VariantID string `json:"variantId" validate:"max=128"`
	Quantity  *int   `json:"quantity"`
}

// UpdateItemRequest is the JSON request body for PUT /update. A quantity of
// zero or less removes the line.
type UpdateItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	VariantID string `json:"variantId" validate:"max=128"`
	Quantity  *int   `json:"quantity" validate:"required"`
}

// RemoveItemRequest is the optional JSON body for DELETE /remove/{productId}.
type RemoveItemRequest struct {
	VariantID string `json:"variantId"`
}

// SyncRequest is the JSON request body for POST /sync.
type SyncRequest struct {
	Items []SyncItemRequest `json:"items" validate:"required"`
}

// SyncItemRequest is one entry of a sync snapshot. Entries are not validated
// individually; invalid ones are skipped by the service.
type SyncItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// --- Response DTOs ---

// CartResponse is the aggregate returned by every cart endpoint.
type CartResponse struct {
	Items       []CartItemResponse `json:"items"`
	ItemCount   int                `json:"itemCount"`
	TotalAmount string             `json:"totalAmount"`
}

// CartItemResponse is one reconciled cart entry. Prices are decimal strings
// in major currency units.
type CartItemResponse struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Quantity  int     `json:"quantity"`
	UnitPrice string  `json:"unitPrice"`
	Subtotal  string  `json:"subtotal"`
	Name      string  `json:"name"`
	Image     *string `json:"image"`
	LiveStock int     `json:"liveStock"`
	Available bool    `json:"available"`
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toCartResponse(agg *domain.Aggregate) CartResponse {
	items := make([]CartItemResponse, 0, len(agg.Entries))
	for _, e := range agg.Entries {
		items = append(items, CartItemResponse{
			ProductID: e.ProductID,
			VariantID: optional(e.VariantID),
			Quantity:  e.Quantity,
			UnitPrice: formatCents(e.UnitPrice),
			Subtotal:  formatCents(e.Subtotal()),
			Name:      e.Name,
			Image:     optional(e.ImageURL),
			LiveStock: e.LiveStock,
			Available: e.Available,
		})
	}
	return CartResponse{
		Items:       items,
		ItemCount:   agg.ItemCount(),
		TotalAmount: formatCents(agg.TotalAmount()),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	cart, err := h.service.GetCart(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// AddItem handles POST /api/v1/cart/add
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.service.Upsert(r.Context(), owner, service.UpsertInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// UpdateItem handles PUT /api/v1/cart/update
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.service.UpdateQuantity(r.Context(), owner, req.ProductID, req.VariantID, *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// RemoveItem handles DELETE /api/v1/cart/remove/{productId}. The variant is
// read from the JSON body, falling back to the variantId query parameter.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if productID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("productId is required"), h.logger)
		return
	}

	var req RemoveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}
	if req.VariantID == "" {
		req.VariantID = r.URL.Query().Get("variantId")
	}

	cart, err := h.service.Remove(r.Context(), owner, productID, req.VariantID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// ClearCart handles DELETE /api/v1/cart/clear
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	cart, err := h.service.Clear(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// SyncCart handles POST /api/v1/cart/sync
func (h *CartHandler) SyncCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]service.SyncItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.SyncItem{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity}
	}

	cart, err := h.service.Sync(r.Context(), owner, items)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(cart))
}

// MergeCart handles POST /api/v1/cart/merge. It moves the anonymous session
// cart into the authenticated user's cart: the user cart is replaced by the
// union of both, session lines win on the same key, and the session cart is
// cleared.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if !owner.IsUser() {
		httputil.WriteError(w, r, apperrors.Unauthorized("merging requires an authenticated user"), h.logger)
		return
	}

	session, err := domain.SessionOwner(sessionIDFromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("a session id is required to merge"), h.logger)
		return
	}

	ctx := r.Context()
	sessionCart, err := h.service.GetCart(ctx, session)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if len(sessionCart.Entries) == 0 {
		h.GetCart(w, r)
		return
	}

	userCart, err := h.service.GetCart(ctx, owner)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	merged, err := h.service.Sync(ctx, owner, mergeItems(sessionCart, userCart))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if _, err := h.service.Clear(ctx, session); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.logger.InfoContext(ctx, "session cart merged",
		slog.String("session_id", session.ID()),
		slog.Int("session_lines", len(sessionCart.Entries)),
		slog.Int("merged_lines", len(merged.Entries)),
	)

	httputil.WriteJSON(w, http.StatusOK, toCartResponse(merged))
}

// mergeItems lists session entries first, then user entries whose key the
// session cart does not hold.
func mergeItems(sessionCart, userCart *domain.Aggregate) []service.SyncItem {
	items := make([]service.SyncItem, 0, len(sessionCart.Entries)+len(userCart.Entries))
	seen := make(map[domain.LineKey]struct{}, len(sessionCart.Entries))
	for _, e := range sessionCart.Entries {
		seen[domain.LineKey{ProductID: e.ProductID, VariantID: e.VariantID}] = struct{}{}
		items = append(items, service.SyncItem{ProductID: e.ProductID, VariantID: e.VariantID, Quantity: e.Quantity})
	}
	for _, e := range userCart.Entries {
		if _, ok := seen[domain.LineKey{ProductID: e.ProductID, VariantID: e.VariantID}]; ok {
			continue
		}
		items = append(items, service.SyncItem{ProductID: e.ProductID, VariantID: e.VariantID, Quantity: e.Quantity})
	}
	return items
}

// --- Helpers ---

func (h *CartHandler) owner(w http.ResponseWriter, r *http.Request) (domain.OwnerKey, bool) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.InvalidInput("a user or session identity is required"), h.logger)
	}
	return owner, ok
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, r, err)
		return false
	}
	return true
}
