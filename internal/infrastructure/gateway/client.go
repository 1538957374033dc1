package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cargoflow/backoffice/internal/domain/reconciliation"
	"github.com/cargoflow/backoffice/internal/domain/shared"
)

// maxResponseSize limits the response body size to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024 // 10MB max response

// Config holds the reconciliation API client settings
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	BearerToken string
}

// Client is the HTTP implementation of reconciliation.Gateway. Each method
// issues exactly one request; there is no retry, batching, or caching here.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

var _ reconciliation.Gateway = (*Client)(nil)

// NewClient creates a gateway client for the given API endpoint
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.BearerToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// ListMappings fetches the mapping view for a sales invoice
func (c *Client) ListMappings(ctx context.Context, salesInvoiceID uuid.UUID) (*reconciliation.MappingList, error) {
	var out reconciliation.MappingList
	path := fmt.Sprintf("/sales-invoices/%s/cost-mappings", salesInvoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAvailableCosts fetches cost invoices with remaining available amount
func (c *Client) ListAvailableCosts(ctx context.Context, salesInvoiceID uuid.UUID) ([]reconciliation.AvailableCostInvoice, error) {
	var out struct {
		AvailableInvoices []reconciliation.AvailableCostInvoice `json:"available_invoices"`
	}
	path := fmt.Sprintf("/sales-invoices/%s/available-costs", salesInvoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.AvailableInvoices, nil
}

// AddCostMapping creates one cost association
func (c *Client) AddCostMapping(ctx context.Context, salesInvoiceID uuid.UUID, req reconciliation.NewMapping) (*reconciliation.AddResult, error) {
	var out struct {
		Mapping reconciliation.CostMapping    `json:"cost_mapping"`
		Margins reconciliation.UpdatedMargins `json:"updated_margins"`
	}
	path := fmt.Sprintf("/sales-invoices/%s/add-cost", salesInvoiceID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &reconciliation.AddResult{Mapping: out.Mapping, Margins: out.Margins}, nil
}

// RemoveCostMapping deletes one cost association
func (c *Client) RemoveCostMapping(ctx context.Context, salesInvoiceID, mappingID uuid.UUID) (*reconciliation.UpdatedMargins, error) {
	var out struct {
		Margins reconciliation.UpdatedMargins `json:"updated_margins"`
	}
	path := fmt.Sprintf("/sales-invoices/%s/remove-cost/%s", salesInvoiceID, mappingID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Margins, nil
}

// envelope is the standard API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorInfo      `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do performs one request against the API and decodes the enveloped
// response into out. Amounts travel as JSON strings and are parsed by
// decimal.Decimal; a malformed amount is a decode error, never a silent zero.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return shared.NewTransportError(op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return shared.NewTransportError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("op", op), zap.Error(err))
		return shared.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return shared.NewTransportError(op, fmt.Errorf("read response: %w", err))
	}

	c.log.Debug("request completed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return shared.NewTransportError(op, fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode >= 400 || !env.Success {
		return mapError(op, resp.StatusCode, env.Error)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return shared.NewTransportError(op, fmt.Errorf("decode payload: %w", err))
		}
	}
	return nil
}

// mapError translates one HTTP failure into the domain error taxonomy:
// 400/422 validation, 404 not found, 409 conflict, everything else transport.
func mapError(op string, status int, info *errorInfo) error {
	message := "request rejected"
	code := ""
	if info != nil {
		if info.Message != "" {
			message = info.Message
		}
		code = info.Code
	}

	switch {
	case status == http.StatusNotFound:
		return shared.NewDomainError(shared.ErrNotFound.Code, message)
	case status == http.StatusConflict:
		return shared.NewDomainError(shared.ErrConcurrencyConflict.Code, message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return shared.NewValidationError("", message)
	default:
		return shared.NewTransportError(op, fmt.Errorf("HTTP %d (%s): %s", status, code, message))
	}
}
