package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/services"
)

type fakeOrders struct {
	services.OrderService
	gotStatus string
	gotNotes  string
	exportErr error
	gotCreate *services.OrderInput
	gotFilter models.OrderFilter
}

func (f *fakeOrders) ChangeStatus(_ context.Context, _ models.Principal, id int64, status, notes string) (*models.Order, error) {
	if !models.Contains(models.ValidOrderStatuses, status) {
		return nil, apperrors.ErrInvalidStatus
	}
	f.gotStatus, f.gotNotes = status, notes
	return &models.Order{ID: id, Status: status}, nil
}

func (f *fakeOrders) Create(_ context.Context, _ models.Principal, in services.OrderInput) (*models.Order, error) {
	f.gotCreate = &in
	return &models.Order{ID: 1, OrderType: in.OrderType, Amount: in.Amount}, nil
}

func (f *fakeOrders) Export(_ context.Context, _ models.Principal, filter models.OrderFilter, w io.Writer) error {
	f.gotFilter = filter
	if f.exportErr != nil {
		return f.exportErr
	}
	_, err := w.Write([]byte("PK-workbook"))
	return err
}

func newOrdersMux(orders *fakeOrders) *http.ServeMux {
	mux := http.NewServeMux()
	NewOrdersHandler(orders, config.UploadsConfig{MaxFileBytes: 1 << 20}, nil, zap.NewNop()).
		RegisterRoutes(mux, newTestAuthMiddleware(), passthroughScope)
	return mux
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"trailing slash", "/api/orders/5/status/", `{"status":"completed","notes":"paid out"}`, http.StatusOK, ""},
		{"no trailing slash", "/api/orders/5/status", `{"status":"processing"}`, http.StatusOK, ""},
		{"unknown status", "/api/orders/5/status/", `{"status":"shipped"}`, http.StatusBadRequest, "invalid_status"},
		{"missing status", "/api/orders/5/status/", `{}`, http.StatusBadRequest, "validation_error"},
		{"bad id", "/api/orders/x/status/", `{"status":"completed"}`, http.StatusBadRequest, "invalid_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{}
			rec := serve(newOrdersMux(orders), httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)), tokenSuper)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantCode != "" {
				var errResp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
				assert.Equal(t, tt.wantCode, errResp["error"])
				return
			}
			var order models.Order
			decodeEnvelope(t, rec, &order)
			assert.Equal(t, int64(5), order.ID)
			assert.Equal(t, orders.gotStatus, order.Status)
		})
	}
}

func TestCreateOrder_DecimalAmount(t *testing.T) {
	orders := &fakeOrders{}
	mux := newOrdersMux(orders)

	rec := serve(mux, httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(`{"order_type":"loan","amount":"2500.75"}`)), tokenSimple)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, orders.gotCreate.Amount)
	assert.Equal(t, "2500.75", orders.gotCreate.Amount.String())

	rec = serve(mux, httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(`{"order_type":"loan","amount":"-1"}`)), tokenSimple)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(mux, httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(`{"order_type":"mortgage"}`)), tokenSimple)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportOrders(t *testing.T) {
	orders := &fakeOrders{}
	rec := serve(newOrdersMux(orders),
		httptest.NewRequest(http.MethodGet, "/api/orders/export?status=pending&limit=500", nil), tokenAdmin)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "PK-workbook", rec.Body.String())
	assert.Equal(t, "pending", orders.gotFilter.Status)
	assert.Equal(t, uint64(maxPageSize), orders.gotFilter.Limit)
}

func TestExportOrders_FailureIsJSON(t *testing.T) {
	orders := &fakeOrders{exportErr: apperrors.ErrForbidden}
	rec := serve(newOrdersMux(orders), httptest.NewRequest(http.MethodGet, "/api/orders/export", nil), tokenSimple)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
