package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stockledger/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handler translates HTTP/JSON requests into stock ledger calls. It
// holds no business logic: availability checks, locking, and the
// adjustment state machine all live in core.
type Handler struct {
	stock   core.StockService
	catalog core.CatalogService
	router  chi.Router
}

// NewHandler creates and wires the chi router with all routes. catalog
// may be nil when running without a database-backed catalog; the
// catalog routes then answer 404. allowedOrigins is the comma-separated
// ALLOWED_ORIGINS list; empty disables CORS.
func NewHandler(stock core.StockService, catalog core.CatalogService, allowedOrigins string) http.Handler {
	h := &Handler{stock: stock, catalog: catalog}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Route("/api/stock", func(r chi.Router) {
		r.Post("/receive", h.receive)
		r.Post("/transfer", h.transfer)
		r.Post("/reservations", h.reserve)
		r.Post("/reservations/{id}/fulfill", h.fulfill)
		r.Post("/reservations/{id}/release", h.release)
		r.Post("/adjustments", h.submitAdjustment)
		r.Get("/adjustments/{id}", h.getAdjustment)
		r.Post("/adjustments/{id}/approve", h.approveAdjustment)
		r.Post("/adjustments/{id}/reject", h.rejectAdjustment)
		r.Get("/balance", h.balance)
		r.Get("/history", h.history)
		r.Post("/verify", h.verify)
		if catalog != nil {
			r.Get("/levels", h.stockLevels)
			r.Get("/low", h.lowStock)
		}
	})

	if catalog != nil {
		r.Route("/api/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Get("/{code}", h.getProduct)
			r.Delete("/{code}", h.deleteProduct)
		})
		r.Get("/api/warehouses", h.listWarehouses)
		r.Post("/api/warehouses", h.createWarehouse)
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid id: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

type movementRequest struct {
	ProductID   int             `json:"product_id"`
	WarehouseID int             `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DocType     string          `json:"doc_type,omitempty"`
	DocID       string          `json:"doc_id,omitempty"`
	Actor       string          `json:"actor"`
}

func (m movementRequest) documentRef(w http.ResponseWriter, r *http.Request) (*core.DocumentRef, bool) {
	if m.DocType == "" {
		return nil, true
	}
	id, err := uuid.Parse(m.DocID)
	if err != nil {
		writeError(w, r, "invalid doc_id: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return nil, false
	}
	return &core.DocumentRef{Type: m.DocType, ID: id}, true
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decode(w, r, &req) {
		return
	}
	doc, ok := req.documentRef(w, r)
	if !ok {
		return
	}
	entryID, err := h.stock.Receive(r.Context(), req.ProductID, req.WarehouseID, req.Quantity, req.UnitCost, doc, req.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"entry_id": entryID})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.stock.Reserve(r.Context(), req.ProductID, req.WarehouseID, req.Quantity, req.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"reservation_id": id.String()})
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	doc, ok := req.documentRef(w, r)
	if !ok {
		return
	}
	entryID, err := h.stock.Fulfill(r.Context(), id, doc)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"entry_id": entryID})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.stock.Release(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type transferRequest struct {
	ProductID       int             `json:"product_id"`
	FromWarehouseID int             `json:"from_warehouse_id"`
	ToWarehouseID   int             `json:"to_warehouse_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Actor           string          `json:"actor"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	outID, inID, err := h.stock.Transfer(r.Context(), req.ProductID, req.FromWarehouseID, req.ToWarehouseID, req.Quantity, req.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"out_entry_id": outID, "in_entry_id": inID})
}

type adjustmentSubmitRequest struct {
	ProductID   int             `json:"product_id"`
	WarehouseID int             `json:"warehouse_id"`
	Delta       decimal.Decimal `json:"delta"`
	Reason      string          `json:"reason"`
	Note        string          `json:"note,omitempty"`
	Submitter   string          `json:"submitter"`
}

func (h *Handler) submitAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentSubmitRequest
	if !decode(w, r, &req) {
		return
	}
	adj, err := h.stock.SubmitAdjustment(r.Context(), req.ProductID, req.WarehouseID, req.Delta,
		core.AdjustmentReason(req.Reason), req.Note, req.Submitter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	adj, err := h.stock.GetAdjustment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
}

func (h *Handler) approveAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	entryID, err := h.stock.ApproveAdjustment(r.Context(), id, req.Approver)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"entry_id": entryID})
}

func (h *Handler) rejectAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.stock.RejectAdjustment(r.Context(), id, req.Approver, req.Note); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// queryInt parses a required integer query parameter; writes 400 and
// returns false when absent or malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// queryOptionalInt parses an optional integer query parameter.
func queryOptionalInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return nil, false
	}
	return &v, true
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	productID, ok := queryInt(w, r, "product_id")
	if !ok {
		return
	}
	warehouseID, ok := queryOptionalInt(w, r, "warehouse_id")
	if !ok {
		return
	}
	balance, err := h.stock.Balance(r.Context(), productID, warehouseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	productID, ok := queryInt(w, r, "product_id")
	if !ok {
		return
	}
	warehouseID, ok := queryOptionalInt(w, r, "warehouse_id")
	if !ok {
		return
	}
	var asOf *time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, "invalid as_of, want RFC 3339", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		asOf = &t
	}
	entries, err := h.stock.History(r.Context(), productID, warehouseID, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decode(w, r, &req) {
		return
	}
	balance, err := h.stock.VerifyBalance(r.Context(), req.ProductID, req.WarehouseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// ── Catalog routes ────────────────────────────────────────────────────────────

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p core.Product
	if !decode(w, r, &p) {
		return
	}
	created, err := h.catalog.CreateProduct(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.catalog.ListWarehouses(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var wh core.Warehouse
	if !decode(w, r, &wh) {
		return
	}
	created, err := h.catalog.CreateWarehouse(r.Context(), wh)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.catalog.StockLevels(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.catalog.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}
