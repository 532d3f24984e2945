package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"comsy.local/booking-service/internal/auth"
	"comsy.local/booking-service/internal/booking"
	"comsy.local/booking-service/internal/common"
	"comsy.local/booking-service/internal/db/models"
	"comsy.local/booking-service/internal/db/repos"
)

var tokens = auth.NewTokens("test-secret", time.Hour)

func token(t *testing.T, userID string, role booking.Role) string {
	t.Helper()
	tok, err := tokens.GenerateToken(userID, role)
	require.NoError(t, err)
	return tok
}

// setupTestRouter wires the real scheduler over the in-memory store.
func setupTestRouter(t *testing.T, now time.Time) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repos.NewMemoryStore()
	sched := booking.NewScheduler(booking.Options{
		Bookings:  store,
		Computers: store,
		Now:       func() time.Time { return now },
	})

	router := gin.New()
	SetupRoutes(router, RouterConfig{Scheduler: sched, Tokens: tokens})
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func registerApproved(t *testing.T, router *gin.Engine, adminTok, name string) models.Computer {
	t.Helper()
	w := do(t, router, http.MethodPost, "/v1/computers", adminTok, gin.H{
		"name":        name,
		"ip_address":  "10.0.0.5",
		"mac_address": "aa:bb:cc:00:00:" + name,
		"specs":       gin.H{"cpu": "i7", "ram": "16GB", "storage": "512GB", "os": "Linux"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pc := decode[models.Computer](t, w)
	assert.Equal(t, models.ApprovalPending, pc.ApprovalState)
	assert.Equal(t, "i7", pc.Specs.CPU)

	w = do(t, router, http.MethodPatch, "/v1/computers/"+pc.ID+"/approve", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.Computer](t, w)
}

func TestBookingFlow(t *testing.T) {
	router := setupTestRouter(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	adminTok := token(t, "root", booking.RoleAdmin)
	aliceTok := token(t, "alice", booking.RoleUser)
	bobTok := token(t, "bob", booking.RoleUser)

	pc := registerApproved(t, router, adminTok, "r1")

	w := do(t, router, http.MethodPost, "/v1/bookings", aliceTok, gin.H{
		"computer_id": pc.ID,
		"start_time":  "2024-03-04T10:00:00Z",
		"end_time":    "2024-03-04T11:00:00Z",
		"purpose":     "lab work",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[models.Booking](t, w)
	assert.Equal(t, "alice", first.UserID)
	assert.Equal(t, models.BookingUpcoming, first.Status)

	w = do(t, router, http.MethodPost, "/v1/bookings", bobTok, gin.H{
		"computer_id": pc.ID,
		"start_time":  "2024-03-04T10:30",
		"end_time":    "2024-03-04T11:30",
		"purpose":     "lab work",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[errorResponse](t, w).Code)

	w = do(t, router, http.MethodPost, "/v1/bookings", bobTok, gin.H{
		"computer_id": pc.ID,
		"start_time":  "2024-03-04T11:00",
		"end_time":    "2024-03-04T12:00",
		"purpose":     "lab work",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/v1/bookings?computer_id="+pc.ID, bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]models.Booking](t, w)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)

	w = do(t, router, http.MethodDelete, "/v1/bookings/"+first.ID, bobTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodDelete, "/v1/bookings/"+first.ID, aliceTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodDelete, "/v1/bookings/"+first.ID, aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBookingValidationErrors(t *testing.T) {
	router := setupTestRouter(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	adminTok := token(t, "root", booking.RoleAdmin)
	aliceTok := token(t, "alice", booking.RoleUser)
	pc := registerApproved(t, router, adminTok, "r1")

	w := do(t, router, http.MethodPost, "/v1/bookings", aliceTok, gin.H{
		"computer_id": pc.ID,
		"start_time":  "2024-03-04T11:00:00Z",
		"end_time":    "2024-03-04T10:00:00Z",
		"purpose":     "lab work",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "validation_error", body.Code)
	assert.Equal(t, "end_time", body.Field)

	w = do(t, router, http.MethodPost, "/v1/bookings", aliceTok, gin.H{
		"computer_id": "unknown",
		"start_time":  "2024-03-04T10:00:00Z",
		"end_time":    "2024-03-04T11:00:00Z",
		"purpose":     "lab work",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, http.MethodGet, "/v1/bookings/attendance?from=2024-03-04T00:00:00Z", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/v1/bookings?from=yesterday", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendance(t *testing.T) {
	router := setupTestRouter(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	adminTok := token(t, "root", booking.RoleAdmin)
	aliceTok := token(t, "alice", booking.RoleUser)
	pc := registerApproved(t, router, adminTok, "r1")

	for _, iv := range [][2]string{{"2024-03-04T09:00", "2024-03-04T10:00"}, {"2024-03-05T09:00", "2024-03-05T10:00"}} {
		w := do(t, router, http.MethodPost, "/v1/bookings", aliceTok, gin.H{
			"computer_id": pc.ID, "start_time": iv[0], "end_time": iv[1], "purpose": "class",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := do(t, router, http.MethodGet, "/v1/bookings/attendance?from=2024-03-04T00:00:00Z&to=2024-03-05T00:00:00Z", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Booking](t, w), 1)
}

func TestAuthentication(t *testing.T) {
	router := setupTestRouter(t, time.Now())

	w := do(t, router, http.MethodGet, "/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/v1/bookings", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdministrativeRoutesRequireAdmin(t *testing.T) {
	router := setupTestRouter(t, time.Now())
	aliceTok := token(t, "alice", booking.RoleUser)

	w := do(t, router, http.MethodPost, "/v1/computers", aliceTok, gin.H{"name": "x", "ip_address": "1.1.1.1", "mac_address": "m"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodPost, "/v1/lifecycle/sweep", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodPatch, "/v1/computers/any/maintenance", aliceTok, gin.H{"enabled": true})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMaintenanceAndSweep(t *testing.T) {
	router := setupTestRouter(t, time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC))
	adminTok := token(t, "root", booking.RoleAdmin)
	aliceTok := token(t, "alice", booking.RoleUser)
	pc := registerApproved(t, router, adminTok, "r1")

	w := do(t, router, http.MethodPatch, "/v1/computers/"+pc.ID+"/maintenance", adminTok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPatch, "/v1/computers/"+pc.ID+"/maintenance", adminTok, gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OperationalMaintenance, decode[models.Computer](t, w).OperationalStatus)

	w = do(t, router, http.MethodPost, "/v1/bookings", aliceTok, gin.H{
		"computer_id": pc.ID, "start_time": "2024-03-04T10:00", "end_time": "2024-03-04T11:00", "purpose": "class",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/v1/lifecycle/sweep", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/v1/computers/"+pc.ID, aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OperationalMaintenance, decode[models.Computer](t, w).OperationalStatus)

	w = do(t, router, http.MethodPatch, "/v1/computers/"+pc.ID+"/maintenance", adminTok, gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OperationalInUse, decode[models.Computer](t, w).OperationalStatus)

	w = do(t, router, http.MethodGet, "/v1/computers?approved=false", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Computer](t, w), 1)

	w = do(t, router, http.MethodGet, "/v1/computers/missing", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// MockScheduler mocks the booking core
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Submit(ctx context.Context, caller booking.Caller, req booking.SubmitRequest) (*models.Booking, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockScheduler) Cancel(ctx context.Context, caller booking.Caller, bookingID string) error {
	args := m.Called(ctx, caller, bookingID)
	return args.Error(0)
}

func (m *MockScheduler) List(ctx context.Context, caller booking.Caller, filter models.BookingFilter) ([]models.Booking, error) {
	args := m.Called(ctx, caller, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockScheduler) RunSweep(ctx context.Context, caller booking.Caller) (booking.SweepResult, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(booking.SweepResult), args.Error(1)
}

func (m *MockScheduler) RegisterComputer(ctx context.Context, caller booking.Caller, req booking.RegisterComputerRequest) (*models.Computer, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Computer), args.Error(1)
}

func (m *MockScheduler) ApproveComputer(ctx context.Context, caller booking.Caller, id string) (*models.Computer, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Computer), args.Error(1)
}

func (m *MockScheduler) SetMaintenance(ctx context.Context, caller booking.Caller, id string, enabled bool) (*models.Computer, error) {
	args := m.Called(ctx, caller, id, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Computer), args.Error(1)
}

func (m *MockScheduler) GetComputer(ctx context.Context, caller booking.Caller, id string) (*models.Computer, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Computer), args.Error(1)
}

func (m *MockScheduler) ListComputers(ctx context.Context, caller booking.Caller, approvedOnly bool) ([]models.Computer, error) {
	args := m.Called(ctx, caller, approvedOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Computer), args.Error(1)
}

func TestErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	aliceTok := token(t, "alice", booking.RoleUser)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"store unavailable", errors.Wrap(common.ErrStoreUnavailable, "dial tcp 10.0.0.3:5432: connection refused"), http.StatusInternalServerError, "internal_error"},
		{"breaker open", errors.Wrap(common.ErrCircuitBreakerOpen, "get booking"), http.StatusServiceUnavailable, "unavailable"},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "lock computer"), http.StatusGatewayTimeout, "timeout"},
		{"invalid state", errors.Wrap(booking.ErrInvalidState, "booking is ongoing"), http.StatusConflict, "invalid_state"},
		{"not found", booking.ErrNotFound, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := new(MockScheduler)
			sched.On("Cancel", mock.Anything, booking.Caller{ID: "alice", Role: booking.RoleUser}, "b-1").Return(tt.err)

			router := gin.New()
			SetupRoutes(router, RouterConfig{Scheduler: sched, Tokens: tokens})

			w := do(t, router, http.MethodDelete, "/v1/bookings/b-1", aliceTok, nil)
			assert.Equal(t, tt.status, w.Code)
			body := decode[errorResponse](t, w)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "10.0.0.3")
			sched.AssertExpectations(t)
		})
	}
}

func TestRequestTimeoutBoundsContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sched := new(MockScheduler)
	sched.On("List", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything, models.BookingFilter{}).Return([]models.Booking{}, nil)

	router := gin.New()
	SetupRoutes(router, RouterConfig{Scheduler: sched, Tokens: tokens, RequestTimeout: time.Second})

	w := do(t, router, http.MethodGet, "/v1/bookings", token(t, "alice", booking.RoleUser), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	sched.AssertExpectations(t)
}

func TestHealthzReportsReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, RouterConfig{
		Scheduler: new(MockScheduler),
		Tokens:    tokens,
		Ready:     func(context.Context) error { return errors.New("database unreachable") },
	})

	w := do(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
