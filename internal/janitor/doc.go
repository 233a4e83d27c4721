// Package janitor восстанавливает процессы, потерянные упавшими
// executor'ами. Аренда (lease) на процесс истекает, если executor
// не делает checkpoint; janitor находит такие процессы по расписанию
// и будит их через RabbitMQ.
package janitor
