package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
	"github.com/shaiso/Conveyor/internal/lifecycle"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// Ключи state, которыми обмениваются шаги каталога.
const (
	keyAppliedConfig     = "applied_config"
	keyProvisionJob      = "provision_job"
	keyProvisionResult   = "provision_result"
	keyDeprovisionJob    = "deprovision_job"
	keyDeprovisionResult = "deprovision_result"
	keyValidationReport  = "validation_report"
)

// Create — workflow создания подписки.
//
// Форма запуска собирает план и количество; применение конфигурации
// выполняется внешней системой асинхронно, оператор подтверждает
// результат перед финальным sync.
func Create(subjects lifecycle.SubjectStore, prov Provisioner) *workflow.Workflow {
	return workflow.New("subscription.create", domain.IntentCreate,
		subscriptionForm("New subscription"),
		workflow.Of(
			lifecycle.Unsync(subjects),
			applyConfigStep(subjects),
			provisionStep(prov),
			confirmStep(),
			lifecycle.Sync(subjects, domain.SubjectActive),
		),
	)
}

// Modify — workflow изменения подписки. Тот же конвейер, что
// и Create: применить → дождаться внешней системы → подтвердить → sync.
func Modify(subjects lifecycle.SubjectStore, prov Provisioner) *workflow.Workflow {
	return workflow.New("subscription.modify", domain.IntentModify,
		subscriptionForm("Change subscription"),
		workflow.Of(
			lifecycle.Unsync(subjects),
			applyConfigStep(subjects),
			provisionStep(prov),
			confirmStep(),
			lifecycle.Sync(subjects, domain.SubjectActive),
		),
	)
}

// Terminate — workflow закрытия подписки. Без формы запуска
// и без подтверждения: снятие ресурсов необратимо запущено,
// подтверждать нечего.
func Terminate(subjects lifecycle.SubjectStore, prov Provisioner) *workflow.Workflow {
	return workflow.New("subscription.terminate", domain.IntentTerminate, nil,
		workflow.Of(
			lifecycle.Unsync(subjects),
			deprovisionStep(prov),
			lifecycle.Sync(subjects, domain.SubjectTerminated),
		),
	)
}

// Validate — проверочный workflow: читает subject и строит отчёт,
// ничего не изменяя. Lifecycle-шагов нет по правилам intent'а VALIDATE.
func Validate(subjects lifecycle.SubjectStore) *workflow.Workflow {
	return workflow.New("subscription.validate", domain.IntentValidate, nil,
		workflow.Of(checkConfigStep(subjects)),
	)
}

// subscriptionForm — форма запуска create/modify.
func subscriptionForm(title string) *forms.Schema {
	return forms.NewSchema(title,
		forms.Field{Name: "plan", Label: "Plan", Type: forms.FieldString, Required: true},
		forms.Field{Name: "quantity", Label: "Quantity", Type: forms.FieldInt, Required: true},
	)
}

// applyConfigStep записывает запрошенные изменения в конфигурацию
// subject'а. Subject в этот момент уже в PROVISIONING (после unsync),
// поэтому конкурирующих изменений нет.
func applyConfigStep(subjects lifecycle.SubjectStore) workflow.Step {
	fn := func(ctx context.Context, in domain.State) workflow.Result {
		subject, err := loadSubject(ctx, subjects, in)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		plan, _ := in.Get("plan")
		quantity, _ := in.Get("quantity")

		if subject.Config == nil {
			subject.Config = make(map[string]any)
		}
		subject.Config["plan"] = plan
		subject.Config["quantity"] = quantity
		subject.UpdatedAt = time.Now()

		if err := subjects.Save(ctx, subject); err != nil {
			return workflow.FailRetryable(fmt.Errorf("save subject: %w", err))
		}

		applied := make(map[string]any, len(subject.Config))
		for k, v := range subject.Config {
			applied[k] = v
		}

		update := domain.NewState()
		update.Set(keyAppliedConfig, applied)
		return workflow.Continue(update)
	}

	return workflow.NewStep("apply_config", fn).
		WithRequires(workflow.KeySubjectID, "plan", "quantity").
		WithProvides(keyAppliedConfig)
}

// provisionStep — мост к внешней provisioning-системе.
func provisionStep(prov Provisioner) workflow.Step {
	action := func(ctx context.Context, in domain.State, token string) workflow.Result {
		req, err := provisionRequest(in, keyAppliedConfig, token)
		if err != nil {
			return workflow.Fail(err)
		}

		jobID, err := prov.StartProvision(ctx, req)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		update := domain.NewState()
		update.Set(keyProvisionJob, jobID)
		return workflow.Continue(update)
	}

	validate := func(ctx context.Context, in domain.State, payload map[string]any) workflow.Result {
		return validateJobResult(payload, keyProvisionResult)
	}

	return workflow.CallbackStep("provision", action, validate).
		WithRequires(workflow.KeySubjectID, keyAppliedConfig).
		WithProvides(keyProvisionJob, keyProvisionResult)
}

// deprovisionStep — мост снятия ресурсов. Конфигурация берётся из
// снапшота unsync: это то, что реально было применено.
func deprovisionStep(prov Provisioner) workflow.Step {
	action := func(ctx context.Context, in domain.State, token string) workflow.Result {
		req, err := provisionRequest(in, lifecycle.KeySnapshot, token)
		if err != nil {
			return workflow.Fail(err)
		}

		jobID, err := prov.StartDeprovision(ctx, req)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		update := domain.NewState()
		update.Set(keyDeprovisionJob, jobID)
		return workflow.Continue(update)
	}

	validate := func(ctx context.Context, in domain.State, payload map[string]any) workflow.Result {
		return validateJobResult(payload, keyDeprovisionResult)
	}

	return workflow.CallbackStep("deprovision", action, validate).
		WithRequires(workflow.KeySubjectID, lifecycle.KeySnapshot).
		WithProvides(keyDeprovisionJob, keyDeprovisionResult)
}

// confirmStep — подтверждение результата оператором перед sync.
func confirmStep() workflow.Step {
	return workflow.InputStep("confirm", forms.NewSchema("Confirm provisioning result",
		forms.Field{Name: "ack", Label: "Result reviewed", Type: forms.FieldBool, Required: true},
	))
}

// checkConfigStep строит отчёт о состоянии subject'а.
func checkConfigStep(subjects lifecycle.SubjectStore) workflow.Step {
	fn := func(ctx context.Context, in domain.State) workflow.Result {
		subject, err := loadSubject(ctx, subjects, in)
		if err != nil {
			return workflow.FailRetryable(err)
		}

		var missing []string
		for _, key := range []string{"plan", "quantity"} {
			if _, ok := subject.Config[key]; !ok {
				missing = append(missing, key)
			}
		}

		report := map[string]any{
			"state":        string(subject.State),
			"insync":       subject.InSync,
			"config_keys":  len(subject.Config),
			"missing_keys": missing,
			"checked_at":   time.Now().UTC().Format(time.RFC3339),
		}

		update := domain.NewState()
		update.Set(keyValidationReport, report)
		return workflow.Continue(update)
	}

	return workflow.NewStep("check_config", fn).
		WithRequires(workflow.KeySubjectID).
		WithProvides(keyValidationReport)
}

// provisionRequest собирает запрос к provisioning-системе из state.
func provisionRequest(in domain.State, configKey, token string) (ProvisionRequest, error) {
	rawID, ok := in.Get(workflow.KeySubjectID)
	if !ok {
		return ProvisionRequest{}, errors.New("state has no subject_id")
	}
	subjectID, ok := rawID.(string)
	if !ok {
		return ProvisionRequest{}, fmt.Errorf("subject_id has type %T, want string", rawID)
	}

	var config map[string]any
	if raw, ok := in.Get(configKey); ok {
		config, _ = raw.(map[string]any)
	}

	return ProvisionRequest{
		SubjectID:     subjectID,
		Config:        config,
		CallbackToken: token,
	}, nil
}

// validateJobResult разбирает payload callback'а внешней системы.
// Ожидается {"status": "completed", "details": {...}} — любой другой
// статус фатален: внешняя система уже отработала и сказала «нет».
func validateJobResult(payload map[string]any, resultKey string) workflow.Result {
	status, _ := payload["status"].(string)
	if status != "completed" {
		detail, _ := payload["error"].(string)
		if detail == "" {
			detail = fmt.Sprintf("status %q", status)
		}
		return workflow.Fail(fmt.Errorf("external job failed: %s", detail))
	}

	result, ok := payload["details"]
	if !ok {
		result = map[string]any{}
	}

	update := domain.NewState()
	update.Set(resultKey, result)
	return workflow.Continue(update)
}

// loadSubject извлекает subject_id из state и загружает subject.
func loadSubject(ctx context.Context, store lifecycle.SubjectStore, in domain.State) (*domain.Subject, error) {
	raw, ok := in.Get(workflow.KeySubjectID)
	if !ok {
		return nil, errors.New("state has no subject_id")
	}
	idStr, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("subject_id has type %T, want string", raw)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse subject_id: %w", err)
	}

	subject, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subject %s: %w", id, err)
	}
	return subject, nil
}
