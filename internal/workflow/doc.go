// Package workflow определяет строительные блоки pipeline'ов:
// Step, StepList, Result и реестр workflow'ов.
//
// Структура:
//   - result.go   — тегированный результат шага (Continue/Suspend/Fail)
//   - step.go     — Step, input-шаги, sentinel-шаги begin/done
//   - callback.go — callback-шаг (action + validate)
//   - steplist.go — упорядоченная неизменяемая последовательность шагов
//   - workflow.go — Workflow: имя, intent, начальная форма, шаги
//   - registry.go — явный реестр с валидацией на этапе регистрации
//
// Step — именованная единица работы над подмножеством state.
// StepList — линейная последовательность шагов, обрамлённая sentinel-шагами
// begin и done. Конкатенация ассоциативна.
//
// Шаги пишутся в дисциплине execute-at-least-once: после падения
// executor'а шаг, чей эффект не успел попасть в checkpoint, будет
// вызван повторно, поэтому внешние эффекты должны быть идемпотентными.
package workflow
