package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "true"
	items, err := a.service.ListItems(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.CreateItem(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpdateItem(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleQuotePrice(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	quantity := decimal.NewFromInt(1)
	if raw := strings.TrimSpace(query.Get("quantity")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid quantity %q", raw))
			return
		}
		quantity = parsed
	}

	quote, err := a.service.QuotePrice(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"), query.Get("shop_id"), quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleListPricingRules(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rules, err := a.service.ListPricingRules(r.Context(), a.sessionFrom(r), query.Get("item_id"), query.Get("shop_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (a *API) handleCreatePricingRule(w http.ResponseWriter, r *http.Request) {
	var req domain.PricingRuleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, err := a.service.CreatePricingRule(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (a *API) handleUpdatePricingRule(w http.ResponseWriter, r *http.Request) {
	var req domain.PricingRuleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, err := a.service.UpdatePricingRule(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (a *API) handleListDiscountRules(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rules, err := a.service.ListDiscountRules(r.Context(), a.sessionFrom(r), query.Get("item_id"), query.Get("shop_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (a *API) handleCreateDiscountRule(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRuleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, err := a.service.CreateDiscountRule(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (a *API) handleUpdateDiscountRule(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRuleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, err := a.service.UpdateDiscountRule(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (a *API) handleListStockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.ListStockLevels(r.Context(), a.sessionFrom(r), r.URL.Query().Get("shop_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (a *API) handleGetStockLevel(w http.ResponseWriter, r *http.Request) {
	level, err := a.service.GetStockLevel(r.Context(), a.sessionFrom(r), chi.URLParam(r, "item_id"), r.URL.Query().Get("shop_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (a *API) handleSetStockLevel(w http.ResponseWriter, r *http.Request) {
	var req domain.StockLevelSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.SetStockLevel(r.Context(), a.sessionFrom(r), chi.URLParam(r, "item_id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListStockTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	txns, err := a.service.ListStockTransactions(r.Context(), a.sessionFrom(r), domain.StockTransactionFilter{
		ShopID: query.Get("shop_id"),
		ItemID: query.Get("item_id"),
		Type:   query.Get("type"),
		Limit:  parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// handleApplyStockTransactions accepts either one transaction object or an
// array applied as a single batch.
func (a *API) handleApplyStockTransactions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeError(w, r, http.StatusBadRequest, errors.New("request body is empty"))
		return
	}

	sess := a.sessionFrom(r)
	if trimmed[0] == '[' {
		var reqs []domain.StockTransactionRequest
		if err := decodeStrict(trimmed, &reqs); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		results, err := a.service.ApplyStockTransactions(r.Context(), sess, reqs)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"results": results})
		return
	}

	var req domain.StockTransactionRequest
	if err := decodeStrict(trimmed, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ApplyStockTransaction(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleTransferStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.TransferStock(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleListStockTakes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	takes, err := a.service.ListStockTakes(r.Context(), a.sessionFrom(r), query.Get("shop_id"), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_takes": takes})
}

func (a *API) handleSubmitStockTake(w http.ResponseWriter, r *http.Request) {
	var req domain.StockTakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SubmitStockTake(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleOpenShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.OpenShift(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetActiveShift(r.Context(), a.sessionFrom(r), r.URL.Query().Get("shop_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (a *API) handleCloseShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	a.closeShift(w, r, chi.URLParam(r, "id"), req)
}

type reconciliationRequest struct {
	ShiftID string `json:"shift_id"`
	domain.ShiftCloseRequest
}

func (a *API) handleSubmitReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	shiftID := req.ShiftID
	if shiftID == "" {
		shiftID = strings.TrimSpace(r.Header.Get(ShiftHeader))
	}
	a.closeShift(w, r, shiftID, req.ShiftCloseRequest)
}

func (a *API) closeShift(w http.ResponseWriter, r *http.Request, shiftID string, req domain.ShiftCloseRequest) {
	resp, err := a.service.CloseShift(r.Context(), a.sessionFrom(r), shiftID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.ShiftSummary(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCashMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.CashMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordCashMovement(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordExpense(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleSubmitSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SubmitSale(r.Context(), a.sessionFrom(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdOrOK(resp.Duplicate), resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), a.sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), a.sessionFrom(r), query.Get("shop_id"), query.Get("date"), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func decodeStrict(body []byte, dest any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// createdOrOK reports a replayed client id as 200 instead of 201.
func createdOrOK(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}
