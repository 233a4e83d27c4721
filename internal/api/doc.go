// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, реестр, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - process_handler.go  — обработчики для /workflows и /processes
//   - callback_handler.go — приём callback'ов внешних систем
//   - engine_handler.go   — пауза/возобновление движка
//   - subject_handler.go  — обработчики для /subjects
//
// API принимает команды синхронно (валидация, staging, публикация wake),
// само выполнение шагов асинхронно выполняет conveyor-engine.
package api
