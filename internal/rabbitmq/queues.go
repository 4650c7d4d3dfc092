package rabbitmq

// RoutingPlanExpired — ключ маршрутизации уведомлений об окончании тарифа.
const RoutingPlanExpired = "plan.expired"

// DeadLetterSuffix добавляется к имени очереди, чтобы получить её dead-letter очередь.
const DeadLetterSuffix = ".dlq"

// QueueConfig описывает очередь и её привязку к обменнику.
// Пустой Exchange означает обменник по умолчанию: очередь доступна по имени.
// Отклонённые сообщения очереди с DeadLetterQueue попадают в эту очередь.
type QueueConfig struct {
	QueueName       string
	Exchange        string
	RoutingKey      string
	DeadLetterQueue string
}

// BillingQueues возвращает очереди биллинга: входящие подтверждения платежей
// с их dead-letter очередью и уведомления об окончании тарифа.
func BillingQueues(paymentsQueue, notificationsExchange string) []QueueConfig {
	return []QueueConfig{
		{QueueName: paymentsQueue + DeadLetterSuffix},
		{QueueName: paymentsQueue, DeadLetterQueue: paymentsQueue + DeadLetterSuffix},
		{QueueName: notificationsExchange + "." + RoutingPlanExpired, Exchange: notificationsExchange, RoutingKey: RoutingPlanExpired},
	}
}
