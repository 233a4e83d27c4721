// Package executor выполняет процессы по одному шагу за раз.
//
// Структура:
//   - stores.go   — интерфейсы хранилищ, от которых зависит executor
//   - executor.go — машина состояний одного процесса (claim → шаги → checkpoint)
//   - service.go  — сервис движка: consumers, polling fallback, пауза
//   - errors.go   — ожидаемые ошибки выполнения
//
// Контракт checkpoint'а: после каждого шага состояние процесса
// фиксируется в БД атомарно вместе с записью журнала. Упавший executor
// теряет максимум текущий шаг — после истечения аренды процесс
// переclaim'ивается и продолжается с последнего checkpoint'а.
// Шаги поэтому должны быть идемпотентными (execute-at-least-once).
package executor
