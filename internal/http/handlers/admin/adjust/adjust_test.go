package adjust

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Adjust(ctx context.Context, operatorID string, userID, newBalance int64) (models.Mutation, error) {
	args := m.Called(ctx, operatorID, userID, newBalance)
	return args.Get(0).(models.Mutation), args.Error(1)
}

func TestAdjustHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		operator       string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:     "успешная корректировка",
			operator: "42",
			body:     `{"user_id":7,"new_balance":100}`,
			setupMock: func(m *MockService) {
				m.On("Adjust", mock.Anything, "42", int64(7), int64(100)).Return(models.Mutation{
					Before: models.Wallet{UserID: 7, SubscriptionCoins: 30},
					After:  models.Wallet{UserID: 7, SubscriptionCoins: 30, AdminCoins: 70},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"admin_coins":70`,
		},
		{
			name:           "нет оператора в контексте",
			body:           `{"user_id":7,"new_balance":100}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "отрицательный баланс",
			operator:       "42",
			body:           `{"user_id":7,"new_balance":-5}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "field NewBalance must be at least 0",
		},
		{
			name:           "некорректный JSON",
			operator:       "42",
			body:           `{`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:     "оператор не в списке",
			operator: "99",
			body:     `{"user_id":7,"new_balance":100}`,
			setupMock: func(m *MockService) {
				m.On("Adjust", mock.Anything, "99", int64(7), int64(100)).Return(models.Mutation{}, billing.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/adjust", bytes.NewBufferString(tt.body))
			if tt.operator != "" {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.Operator, tt.operator))
			}
			w := httptest.NewRecorder()
			New(logger, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
			svc.AssertExpectations(t)
		})
	}
}
