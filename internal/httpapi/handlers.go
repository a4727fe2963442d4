package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

func (a *API) handleListParts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.PartFilter{
		Query:       strings.TrimSpace(query.Get("q")),
		Provenance:  strings.TrimSpace(query.Get("provenance")),
		ContainerNo: strings.TrimSpace(query.Get("container_no")),
		Limit:       parsePositiveLimit(query.Get("limit"), 50, 500),
		Offset:      parseOffset(query.Get("offset")),
	}
	if raw := strings.TrimSpace(query.Get("in_stock")); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, store.Invalid("in_stock", "must be true or false"))
			return
		}
		filter.InStock = inStock
	}

	parts, err := a.service.ListParts(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parts": parts})
}

func (a *API) handleCreatePart(w http.ResponseWriter, r *http.Request) {
	var req domain.PartCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	part, err := a.service.CreatePart(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"part": part})
}

func (a *API) handleGetPart(w http.ResponseWriter, r *http.Request) {
	part, err := a.service.GetPart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"part": part})
}

// handleUpdatePart decodes into the allow-listed DTO; any other field in the
// body, stock counters included, is rejected by decodeJSON.
func (a *API) handleUpdatePart(w http.ResponseWriter, r *http.Request) {
	var req domain.PartUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	part, err := a.service.UpdatePart(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"part": part})
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	part, err := a.service.Restock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"part": part})
}

func (a *API) handleQuickSell(w http.ResponseWriter, r *http.Request) {
	var req domain.QuickSellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	part, err := a.service.QuickSell(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"part": part})
}

func (a *API) handleSell(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bill, err := a.service.Sell(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill})
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTimeParam("from", query.Get("from"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	to, err := parseTimeParam("to", query.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	bills, err := a.service.ListBills(r.Context(), domain.BillFilter{
		Status: strings.TrimSpace(query.Get("status")),
		From:   from,
		To:     to,
		Limit:  parsePositiveLimit(query.Get("limit"), 50, 500),
		Offset: parseOffset(query.Get("offset")),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := a.service.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	var req domain.BillUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bill, err := a.service.UpdateBill(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := a.service.ListRefunds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": refunds})
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	refund, err := a.service.Refund(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"refund": refund})
}

func (a *API) handleListReservations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(strings.TrimSpace(query.Get("active")))

	reservations, err := a.service.ListReservations(r.Context(), domain.ReservationFilter{
		ActiveOnly: activeOnly,
		Limit:      parsePositiveLimit(query.Get("limit"), 50, 500),
		Offset:     parseOffset(query.Get("offset")),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

func (a *API) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reservation, err := a.service.Reserve(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reservation": reservation})
}

func (a *API) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := a.service.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation": reservation})
}

func (a *API) handleCompleteReservation(w http.ResponseWriter, r *http.Request) {
	// The body is optional here.
	var req domain.CompleteReservationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bill, err := a.service.CompleteReservation(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill})
}

func (a *API) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := a.service.CancelReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation": reservation})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.service.UpdateUser(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTimeParam("from", query.Get("from"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	to, err := parseTimeParam("to", query.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	logs, err := a.service.ListAuditLogs(r.Context(), domain.AuditFilter{
		TableName: strings.TrimSpace(query.Get("table")),
		RecordID:  strings.TrimSpace(query.Get("record_id")),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.InventoryReport(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTimeParam("from", query.Get("from"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	to, err := parseTimeParam("to", query.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	report, err := a.service.SalesReport(r.Context(), derefTime(from), derefTime(to))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
