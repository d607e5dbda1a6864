package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/service"
)

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := a.svc.ListItems(r.Context(), domain.ItemFilter{
		ShopID:   strings.TrimSpace(q.Get("shop_id")),
		PoolOnly: queryBool(r, "pool"),
		Category: strings.TrimSpace(q.Get("category")),
		Name:     strings.TrimSpace(q.Get("name")),
		LowStock: queryBool(r, "low_stock"),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.svc.CreateItem(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := a.svc.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	shopID := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	if !actor.IsAdmin() {
		shopID = actor.ShopID
	}
	items, err := a.svc.LowStockItems(r.Context(), shopID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	purchases, err := a.svc.ListPurchases(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	purchase, err := a.svc.CreatePurchase(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
}

func (a *API) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	allocations, err := a.svc.ListAllocations(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

func (a *API) handleRequestAllocation(w http.ResponseWriter, r *http.Request) {
	var req domain.AllocationCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	allocation, err := a.svc.RequestAllocation(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"allocation": allocation})
}

func (a *API) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	allocation, err := a.svc.GetAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocation": allocation})
}

func (a *API) handleApproveAllocation(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.ApproveAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRejectAllocation(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.RejectAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exchanges, err := a.svc.ListExchanges(r.Context(), strings.TrimSpace(q.Get("shop_id")), strings.TrimSpace(q.Get("status")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}

func (a *API) handleCreateExchange(w http.ResponseWriter, r *http.Request) {
	var req domain.ExchangeCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exchange, err := a.svc.CreateExchange(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"exchange": exchange})
}

func (a *API) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	exchange, err := a.svc.GetExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchange": exchange})
}

func (a *API) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.ConfirmReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCompleteExchange(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.CompleteExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRejectExchange(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.RejectExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListRepairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	repairs, err := a.svc.ListRepairs(r.Context(), domain.RepairFilter{
		ShopID: strings.TrimSpace(q.Get("shop_id")),
		Status: strings.TrimSpace(q.Get("status")),
		Limit:  parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repairs": repairs})
}

func (a *API) handleCreateRepair(w http.ResponseWriter, r *http.Request) {
	var req domain.RepairCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repair, err := a.svc.CreateRepair(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"repair": repair})
}

func (a *API) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	repairs, err := a.svc.ListPendingApprovals(r.Context(), strings.TrimSpace(r.URL.Query().Get("shop_id")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repairs": repairs})
}

func (a *API) handleGetRepair(w http.ResponseWriter, r *http.Request) {
	repair, err := a.svc.GetRepair(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repair": repair})
}

func (a *API) handleDeleteRepair(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRepair(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRepairStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.RepairStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.UpdateRepairStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCustomerStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.SetCustomerStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.RepairPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.RecordPayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.RepairPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.SubmitPaymentForApproval(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleApprovePayment(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.ApprovePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDiscardPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.DiscardPendingPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConfirmCollection(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.ConfirmCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpdatePartCost(w http.ResponseWriter, r *http.Request) {
	var req domain.PartCostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.UpdatePartCost(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.svc.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListDebts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := queryDay(r, "date")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	debts, err := a.svc.ListDebts(r.Context(), domain.SupplierDebtFilter{
		SupplierID: strings.TrimSpace(q.Get("supplier_id")),
		RepairID:   strings.TrimSpace(q.Get("repair_id")),
		UnpaidOnly: queryBool(r, "unpaid"),
		From:       from,
		To:         to,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debts": debts})
}

func (a *API) handleAddDebt(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierDebtCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	debt, err := a.svc.AddDebt(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"debt": debt})
}

func (a *API) handleDebtSummary(w http.ResponseWriter, r *http.Request) {
	var (
		summary domain.SupplierDebtSummary
		err     error
	)
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		summary, err = a.svc.UnpaidTotalsBySupplierOn(r.Context(), date)
	} else {
		summary, err = a.svc.UnpaidTotalsBySupplier(r.Context())
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSettlementSnapshot serves the summary the settlement job stored for
// a day.
func (a *API) handleSettlementSnapshot(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, errors.New("forbidden"))
		return
	}
	if a.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("settlement snapshots are not configured"))
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("date must be YYYY-MM-DD"))
		return
	}
	var summary domain.SupplierDebtSummary
	found, err := a.snapshots.LoadSnapshot(r.Context(), notify.SettlementKey(date), &summary)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("no settlement recorded for "+date))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	debt, err := a.svc.GetSupplierDebt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debt": debt})
}

func (a *API) handleSetDebtCost(w http.ResponseWriter, r *http.Request) {
	var req domain.DebtCostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.svc.SetDebtCost(r.Context(), chi.URLParam(r, "id"), req.CostPerUnitCents)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMarkDebtPaid(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.MarkDebtPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := queryDay(r, "date")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	payments, err := a.svc.ListPayments(r.Context(), domain.PaymentFilter{
		ShopID:         strings.TrimSpace(q.Get("shop_id")),
		RelatedTo:      strings.TrimSpace(q.Get("related_to")),
		RelatedID:      strings.TrimSpace(q.Get("related_id")),
		Type:           strings.TrimSpace(q.Get("type")),
		PendingDeposit: queryBool(r, "pending_deposit"),
		From:           from,
		To:             to,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleDailyTotals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	totals, err := a.svc.DailyTotals(r.Context(), q.Get("date"), strings.TrimSpace(q.Get("shop_id")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (a *API) handlePendingDeposits(w http.ResponseWriter, r *http.Request) {
	payments, err := a.svc.PendingCashDeposits(r.Context(), strings.TrimSpace(r.URL.Query().Get("shop_id")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleMarkDeposited(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.MarkDeposited(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.svc.ListAuditLogs(r.Context(), strings.TrimSpace(q.Get("shop_id")), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 1000))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
