package api

import (
	"log/slog"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// Handler — главный обработчик API с зависимостями.
//
// Хранилища — интерфейсы (stores.go): в проде их реализуют
// pgx-репозитории, в тестах — in-memory fakes.
type Handler struct {
	processRepo  ProcessStore
	subjectRepo  SubjectStore
	callbackRepo CallbackStore
	engineRepo   EngineStore
	registry     *workflow.Registry
	publisher    *mq.Publisher
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	ProcessRepo  ProcessStore
	SubjectRepo  SubjectStore
	CallbackRepo CallbackStore
	EngineRepo   EngineStore
	Registry     *workflow.Registry
	Publisher    *mq.Publisher
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		processRepo:  cfg.ProcessRepo,
		subjectRepo:  cfg.SubjectRepo,
		callbackRepo: cfg.CallbackRepo,
		engineRepo:   cfg.EngineRepo,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
	}
}
