package bonus

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

	"github.com/magabrotheeeer/coin-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Bonus(ctx context.Context, operatorID string, userID, amount int64, reason string) (models.Mutation, error) {
	args := m.Called(ctx, operatorID, userID, amount, reason)
	return args.Get(0).(models.Mutation), args.Error(1)
}

func TestBonusHandler(t *testing.T) {
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
			name:     "бонус начислен",
			operator: "42",
			body:     `{"user_id":7,"amount":25,"reason":"apology"}`,
			setupMock: func(m *MockService) {
				m.On("Bonus", mock.Anything, "42", int64(7), int64(25), "apology").Return(models.Mutation{
					After: models.Wallet{UserID: 7, AdminCoins: 25},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"admin_coins":25`,
		},
		{
			name:           "нулевая сумма",
			operator:       "42",
			body:           `{"user_id":7,"amount":0}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "field Amount is a required field",
		},
		{
			name:           "нет оператора в контексте",
			body:           `{"user_id":7,"amount":25}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bonus", bytes.NewBufferString(tt.body))
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
