// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - process.pending — новый процесс ожидает выполнения
//   - process.wake    — приостановленный процесс разбужен (resume/callback/retry/unpause)
//   - process.status  — уведомление о смене статуса процесса
//
// Exchanges:
//   - conveyor.processes — команды движку
//   - conveyor.events    — уведомления для внешних подписчиков (topic)
//   - conveyor.dlq       — dead letter queue
package mq
