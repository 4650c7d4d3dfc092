package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/coin-billing/internal/billing"
	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// SkipRabbitMQTestsEnv — значение SKIP_RABBITMQ_TESTS, отключающее тесты с брокером.
const SkipRabbitMQTestsEnv = "true"

const amqpPort = nat.Port("5672/tcp")

func amqpURI(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_RABBITMQ_TESTS") == SkipRabbitMQTestsEnv {
		t.Skip("Skipping RabbitMQ tests")
	}
	if uri := os.Getenv("TEST_RABBITMQ_URL"); uri != "" {
		return uri
	}

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management",
		ExposedPorts: []string{string(amqpPort)},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForListeningPort(amqpPort).WithStartupTimeout(2 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, amqpPort)
	require.NoError(t, err)
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestRabbitMQ_PaymentsAndNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	conn, err := Connect(amqpURI(ctx, t), 5, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	queues := BillingQueues("payments.test", "notifications.test")
	ch, err := SetupChannel(conn, 10, queues)
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	event := models.PaymentEvent{PaymentID: "pay-1", UserID: 7, SKU: "coins_50", Outcome: models.OutcomeSucceeded}

	var wg sync.WaitGroup
	wg.Add(1)
	applier := new(MockApplier)
	applier.On("ApplyPayment", mock.Anything, event).
		Run(func(mock.Arguments) { wg.Done() }).
		Return(models.CreditResult{Status: models.CreditApplied}, nil).Once()

	consumeCtx, stop := context.WithCancel(ctx)
	consumed := make(chan error, 1)
	go func() {
		consumed <- ConsumerMessage(consumeCtx, ch, "payments.test", 2, newNoopLogger(), PaymentHandler(applier, newNoopLogger()))
	}()

	require.NoError(t, PublishMessage(ch, "", "payments.test", event))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("payment event was not consumed")
	}
	stop()
	require.NoError(t, <-consumed)
	applier.AssertExpectations(t)

	notice := models.PlanExpiredNotice{UserID: 7, Plan: models.PlanLite, ExpiredAt: time.Now().UTC(), Balance: 10}
	require.NoError(t, NewNotifier(ch, "notifications.test").PlanExpired(ctx, notice))

	var got amqp.Delivery
	require.Eventually(t, func() bool {
		d, ok, err := ch.Get(queues[2].QueueName, true)
		if err != nil || !ok {
			return false
		}
		got = d
		return true
	}, 10*time.Second, 100*time.Millisecond)

	var decoded models.PlanExpiredNotice
	require.NoError(t, json.Unmarshal(got.Body, &decoded))
	assert.Equal(t, int64(7), decoded.UserID)
	assert.Equal(t, models.PlanLite, decoded.Plan)

	// постоянная ошибка хранилища уводит сообщение в dead-letter очередь
	broken := models.PaymentEvent{PaymentID: "pay-2", UserID: 8, SKU: "coins_50", Outcome: models.OutcomeSucceeded}
	failing := new(MockApplier)
	failing.On("ApplyPayment", mock.Anything, broken).
		Return(models.CreditResult{}, billing.NewStorageError("storage.AppendEntry", errors.New("check violation"), false)).Once()

	consumeCtx, stop = context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = ConsumerMessage(consumeCtx, ch, "payments.test", 1, newNoopLogger(), PaymentHandler(failing, newNoopLogger()))
	}()
	require.NoError(t, PublishMessage(ch, "", "payments.test", broken))

	var dead amqp.Delivery
	require.Eventually(t, func() bool {
		d, ok, err := ch.Get(queues[0].QueueName, true)
		if err != nil || !ok {
			return false
		}
		dead = d
		return true
	}, 20*time.Second, 100*time.Millisecond)
	stop()

	var deadEvent models.PaymentEvent
	require.NoError(t, json.Unmarshal(dead.Body, &deadEvent))
	assert.Equal(t, "pay-2", deadEvent.PaymentID)
	failing.AssertExpectations(t)
}
