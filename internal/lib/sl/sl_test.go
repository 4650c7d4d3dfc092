package sl_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := errors.New("something went wrong")
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.Panics(t, func() {
		_ = sl.Err(nil)
	})
}

func TestDomainAttrs(t *testing.T) {
	assert.Equal(t, slog.Int64("user_id", 42), sl.UserID(42))
	assert.Equal(t, slog.String("payment_id", "2c8f"), sl.PaymentID("2c8f"))
	assert.Equal(t, slog.Bool("alert", true), sl.Alert())
}
