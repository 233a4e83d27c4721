package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeProcesses Exchange = "conveyor.processes"
	ExchangeEvents    Exchange = "conveyor.events"
	ExchangeDLQ       Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueProcessesPending Queue = "processes.pending"
	QueueProcessesWake    Queue = "processes.wake"
	QueueDLQProcesses     Queue = "dlq.processes"
)

// Routing keys.
const (
	RoutingKeyPending      RoutingKey = "pending"
	RoutingKeyWake         RoutingKey = "wake"
	RoutingKeyDLQProcesses RoutingKey = "processes"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeProcesses, "direct"},
		// Топик: подписчики (интеграции, дашборды) сами заводят
		// очереди по интересующим ключам process.status.*
		{ExchangeEvents, "topic"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQProcesses),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// processes.pending — новые процессы, с DLQ
		{QueueProcessesPending, dlqArgs},

		// processes.wake — пробуждения приостановленных процессов
		// (resume, callback, retry, снятие паузы), с DLQ
		{QueueProcessesWake, dlqArgs},

		// dlq.processes — сама DLQ очередь
		{QueueDLQProcesses, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueProcessesPending, RoutingKeyPending, ExchangeProcesses},
		{QueueProcessesWake, RoutingKeyWake, ExchangeProcesses},
		{QueueDLQProcesses, RoutingKeyDLQProcesses, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.processes (direct)
    ├── processes.pending [routing: pending]
    │       Consumer: Engine
    │       DLQ: dlq.processes
    └── processes.wake [routing: wake]
            Consumer: Engine
            DLQ: dlq.processes

    conveyor.events (topic)
    └── process.status.* — уведомления о смене статусов
            Consumers: внешние подписчики

    conveyor.dlq (direct)
    └── dlq.processes [routing: processes]
            Manual processing
  `
}
