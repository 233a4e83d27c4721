package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем статусе записи.
	ErrInvalidState = errors.New("invalid state")

	// ErrTokenConsumed — callback token уже потреблён.
	ErrTokenConsumed = errors.New("token already consumed")
)
