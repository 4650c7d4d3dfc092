package balance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Get(ctx context.Context, userID int64) (models.Wallet, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Wallet), args.Error(1)
}

func TestBalanceHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   []string
	}{
		{
			name:   "кошелёк найден",
			userID: "42",
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, int64(42)).
					Return(models.Wallet{UserID: 42, SubscriptionCoins: 10, AdminCoins: 5, Plan: models.PlanLite}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"total":15`, `"plan":"lite"`, `"admin_coins":5`},
		},
		{
			name:           "некорректный id",
			userID:         "abc",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   []string{`"error":"invalid user id"`},
		},
		{
			name:           "отрицательный id",
			userID:         "-1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   []string{`"error":"invalid user id"`},
		},
		{
			name:   "хранилище временно недоступно",
			userID: "42",
			setupMock: func(m *MockService) {
				m.On("Get", mock.Anything, int64(42)).
					Return(models.Wallet{}, billing.NewStorageError("op", errors.New("serialization"), true))
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   []string{`"status":"Error"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+tt.userID, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("user_id", tt.userID)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			w := httptest.NewRecorder()

			New(logger, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			for _, s := range tt.expectedBody {
				assert.Contains(t, w.Body.String(), s)
			}
			svc.AssertExpectations(t)
		})
	}
}
