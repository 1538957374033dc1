package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cargoflow/backoffice/internal/domain/invoicing"
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/cargoflow/backoffice/internal/infrastructure/config"
	"github.com/cargoflow/backoffice/internal/infrastructure/logger"
	"github.com/cargoflow/backoffice/internal/infrastructure/persistence"
	"github.com/cargoflow/backoffice/internal/interfaces/http/middleware"
)

// InvoiceDefaults carries the operator-configured fallbacks applied when a
// request omits tax_rate or currency.
type InvoiceDefaults struct {
	TaxRate  decimal.Decimal
	Currency valueobject.Currency
}

// DefaultsFromConfig builds invoice defaults from the tax config section.
func DefaultsFromConfig(cfg config.TaxConfig) (InvoiceDefaults, error) {
	rate, err := cfg.DecimalRate()
	if err != nil {
		return InvoiceDefaults{}, fmt.Errorf("invalid tax rate %q: %w", cfg.Rate, err)
	}
	return InvoiceDefaults{
		TaxRate:  rate,
		Currency: valueobject.Currency(cfg.Currency),
	}, nil
}

// ReconciliationHandler serves the reconciliation API: sales and cost
// invoice intake plus the mapping endpoints the back-office client consumes.
type ReconciliationHandler struct {
	BaseHandler
	repo     *persistence.ReconciliationRepository
	defaults InvoiceDefaults
	log      *zap.Logger
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(repo *persistence.ReconciliationRepository, defaults InvoiceDefaults, log *zap.Logger) *ReconciliationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationHandler{repo: repo, defaults: defaults, log: log}
}

// requestLogger prefers the request-scoped logger installed by the logging
// middleware; without middleware it falls back to the handler logger.
func (h *ReconciliationHandler) requestLogger(c *gin.Context) *zap.Logger {
	if _, exists := c.Get("logger"); exists {
		return logger.GetGinLogger(c)
	}
	return h.log
}

// RegisterRoutes registers the reconciliation routes
func (h *ReconciliationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sales := rg.Group("/sales-invoices")
	{
		sales.POST("", h.CreateSalesInvoice)
		sales.GET("/:id", h.GetSalesInvoice)
		sales.GET("/:id/cost-mappings", h.ListCostMappings)
		sales.GET("/:id/available-costs", h.ListAvailableCosts)
		sales.POST("/:id/add-cost", h.AddCost)
		sales.DELETE("/:id/remove-cost/:mapping_id", h.RemoveCost)
	}
	rg.POST("/cost-invoices", h.CreateCostInvoice)
}

type createLineRequest struct {
	Description string `json:"descripcion" binding:"required"`
	Concept     string `json:"concepto" binding:"required,concepto"`
	Quantity    string `json:"cantidad" binding:"required"`
	UnitPrice   string `json:"precio_unitario" binding:"required"`
	Taxable     bool   `json:"gravado"`
}

type createSalesInvoiceRequest struct {
	InvoiceNumber string              `json:"numero_factura" binding:"required"`
	ClientName    string              `json:"cliente_nombre" binding:"required"`
	Currency      string              `json:"currency" binding:"omitempty,len=3"`
	TaxRate       string              `json:"tax_rate"`
	Lines         []createLineRequest `json:"lines" binding:"dive"`
}

type createCostInvoiceRequest struct {
	InvoiceNumber    string `json:"numero_factura" binding:"required"`
	SupplierName     string `json:"proveedor_nombre" binding:"required"`
	CostType         string `json:"tipo_costo" binding:"required,concepto"`
	ApplicableAmount string `json:"monto_aplicable" binding:"required"`
}

type addCostRequest struct {
	CostInvoiceID  string `json:"cost_invoice_id" binding:"required,uuid"`
	AssignedAmount string `json:"monto_asignado" binding:"required"`
	Notes          string `json:"notas"`
}

type salesInvoiceResponse struct {
	ID            uuid.UUID        `json:"id"`
	InvoiceNumber string           `json:"numero_factura"`
	ClientName    string           `json:"cliente_nombre"`
	Currency      string           `json:"currency"`
	TaxRate       decimal.Decimal  `json:"tax_rate"`
	Lines         []invoicing.Line `json:"lines"`
	Totals        invoicing.Totals `json:"totals"`
}

// CreateSalesInvoice stores a sales invoice. Line subtotals, taxes and the
// grand total are computed here; clients never submit derived amounts.
func (h *ReconciliationHandler) CreateSalesInvoice(c *gin.Context) {
	var req createSalesInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, middleware.FormatValidationErrors(err))
		return
	}

	taxRate := h.defaults.TaxRate
	if req.TaxRate != "" {
		parsed, err := decimal.NewFromString(req.TaxRate)
		if err != nil {
			h.BadRequest(c, "tax_rate is not a valid decimal")
			return
		}
		taxRate = parsed
	}
	currency := valueobject.Currency(req.Currency)
	if req.Currency == "" {
		currency = h.defaults.Currency
	}

	invoice, err := invoicing.NewSalesInvoice(req.InvoiceNumber, req.ClientName, currency, taxRate)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	for _, lineReq := range req.Lines {
		quantity, err := decimal.NewFromString(lineReq.Quantity)
		if err != nil {
			h.BadRequest(c, "cantidad is not a valid decimal")
			return
		}
		unitPrice, err := decimal.NewFromString(lineReq.UnitPrice)
		if err != nil {
			h.BadRequest(c, "precio_unitario is not a valid decimal")
			return
		}
		if _, err := invoice.AddLine(lineReq.Description, invoicing.Concept(lineReq.Concept), quantity, unitPrice, lineReq.Taxable); err != nil {
			h.HandleError(c, err)
			return
		}
	}

	totals := invoice.Totals()
	now := time.Now()
	model := &persistence.SalesInvoiceModel{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		ClientName:    invoice.ClientName,
		Currency:      string(invoice.Currency),
		TaxRate:       invoice.TaxRate,
		TotalAmount:   totals.GrandTotal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lines := make([]persistence.SalesLineModel, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lm := persistence.LineModelFromDomain(invoice.ID, line)
		lm.CreatedAt = now
		lm.UpdatedAt = now
		lines = append(lines, lm)
	}

	if err := h.repo.CreateSalesInvoice(c.Request.Context(), model, lines); err != nil {
		h.HandleError(c, err)
		return
	}

	h.requestLogger(c).Info("sales invoice created",
		zap.String("sales_invoice_id", invoice.ID.String()),
		zap.String("numero_factura", invoice.InvoiceNumber),
		zap.String("total", totals.GrandTotal.StringFixed(2)))

	h.Created(c, salesInvoiceResponse{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		ClientName:    invoice.ClientName,
		Currency:      string(invoice.Currency),
		TaxRate:       invoice.TaxRate,
		Lines:         invoice.Lines,
		Totals:        totals,
	})
}

// GetSalesInvoice returns one sales invoice with its lines and totals
func (h *ReconciliationHandler) GetSalesInvoice(c *gin.Context) {
	salesInvoiceID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	model, err := h.repo.GetSalesInvoice(c.Request.Context(), salesInvoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	lineModels, err := h.repo.GetSalesLines(c.Request.Context(), salesInvoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	lines := make([]invoicing.Line, 0, len(lineModels))
	for i := range lineModels {
		lines = append(lines, lineModels[i].ToDomainLine())
	}

	h.Success(c, salesInvoiceResponse{
		ID:            model.ID,
		InvoiceNumber: model.InvoiceNumber,
		ClientName:    model.ClientName,
		Currency:      model.Currency,
		TaxRate:       model.TaxRate,
		Lines:         lines,
		Totals:        invoicing.Aggregate(lines),
	})
}

// CreateCostInvoice stores a supplier cost invoice
func (h *ReconciliationHandler) CreateCostInvoice(c *gin.Context) {
	var req createCostInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, middleware.FormatValidationErrors(err))
		return
	}

	applicable, err := decimal.NewFromString(req.ApplicableAmount)
	if err != nil {
		h.BadRequest(c, "monto_aplicable is not a valid decimal")
		return
	}
	if !applicable.IsPositive() {
		h.BadRequest(c, "monto_aplicable must be greater than zero")
		return
	}
	if !invoicing.Concept(req.CostType).IsValid() {
		h.BadRequest(c, "tipo_costo must be one of the fixed service categories")
		return
	}

	now := time.Now()
	model := &persistence.CostInvoiceModel{
		ID:               uuid.New(),
		InvoiceNumber:    req.InvoiceNumber,
		SupplierName:     req.SupplierName,
		CostType:         req.CostType,
		ApplicableAmount: applicable,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.repo.CreateCostInvoice(c.Request.Context(), model); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, model.ToAvailable(decimal.Zero))
}

// ListCostMappings returns the mapping view of a sales invoice
func (h *ReconciliationHandler) ListCostMappings(c *gin.Context) {
	salesInvoiceID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	list, err := h.repo.ListMappings(c.Request.Context(), salesInvoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, list)
}

// ListAvailableCosts returns cost invoices with remaining available amount
func (h *ReconciliationHandler) ListAvailableCosts(c *gin.Context) {
	salesInvoiceID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	available, err := h.repo.ListAvailableCosts(c.Request.Context(), salesInvoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"available_invoices": available})
}

// AddCost creates one cost mapping. Availability is re-validated inside the
// repository transaction; a race lost to another writer comes back as a 422.
func (h *ReconciliationHandler) AddCost(c *gin.Context) {
	salesInvoiceID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	var req addCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, middleware.FormatValidationErrors(err))
		return
	}

	costInvoiceID, err := uuid.Parse(req.CostInvoiceID)
	if err != nil {
		h.BadRequest(c, "cost_invoice_id is not a valid uuid")
		return
	}
	amount, err := decimal.NewFromString(req.AssignedAmount)
	if err != nil {
		h.BadRequest(c, "monto_asignado is not a valid decimal")
		return
	}

	result, err := h.repo.CreateMapping(c.Request.Context(), salesInvoiceID, costInvoiceID, amount, req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.requestLogger(c).Info("cost mapping created",
		zap.String("sales_invoice_id", salesInvoiceID.String()),
		zap.String("cost_invoice_id", costInvoiceID.String()),
		zap.String("monto_asignado", amount.StringFixed(2)))

	h.Created(c, gin.H{
		"cost_mapping":    result.Mapping,
		"updated_margins": result.Margins,
	})
}

// RemoveCost deletes one cost mapping
func (h *ReconciliationHandler) RemoveCost(c *gin.Context) {
	salesInvoiceID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	mappingID, err := uuid.Parse(c.Param("mapping_id"))
	if err != nil {
		h.BadRequest(c, "mapping_id is not a valid uuid")
		return
	}

	margins, err := h.repo.DeleteMapping(c.Request.Context(), salesInvoiceID, mappingID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.requestLogger(c).Info("cost mapping removed",
		zap.String("sales_invoice_id", salesInvoiceID.String()),
		zap.String("mapping_id", mappingID.String()))

	h.Success(c, gin.H{"updated_margins": margins})
}

// pathUUID parses a uuid path parameter, answering 400 on failure
func (h *ReconciliationHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, name+" is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}
