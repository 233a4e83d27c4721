// Package forms описывает схемы пользовательского ввода для input-шагов
// и валидацию присланных значений.
//
// Executor и API не знают семантику полей — они работают только со Schema
// и результатом Validate. Схема сериализуется в checkpoint процесса, чтобы
// приостановленный процесс показывал, какой ввод ещё требуется.
package forms

import (
	"fmt"
	"strings"
)

// FieldType — тип поля формы.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
)

// Field — одно поле формы.
type Field struct {
	// Name — ключ, под которым значение попадёт в state процесса.
	Name string `json:"name"`

	// Label — человекочитаемое имя поля (для UI).
	Label string `json:"label,omitempty"`

	// Type — ожидаемый тип значения.
	Type FieldType `json:"type"`

	// Required — обязательное ли поле.
	Required bool `json:"required"`
}

// Schema — описание формы, которую нужно заполнить для продолжения процесса.
type Schema struct {
	// Title — заголовок формы (для UI).
	Title string `json:"title,omitempty"`

	// Fields — поля в порядке отображения.
	Fields []Field `json:"fields"`
}

// NewSchema создаёт схему с указанными полями.
func NewSchema(title string, fields ...Field) *Schema {
	return &Schema{Title: title, Fields: fields}
}

// FieldNames возвращает имена полей в порядке схемы.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ValidationError — структурированная ошибка валидации формы.
//
// Fields содержит сообщение по каждому некорректному полю.
type ValidationError struct {
	Fields map[string]string
}

// Error возвращает сводное сообщение по всем полям.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for name, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", name, msg))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Validate проверяет payload по схеме.
//
// Возвращает очищенный набор значений (только объявленные поля,
// приведённые к ожидаемому типу) или *ValidationError.
// Неизвестные ключи payload игнорируются.
func (s *Schema) Validate(payload map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(s.Fields))
	errs := make(map[string]string)

	for _, f := range s.Fields {
		raw, ok := payload[f.Name]
		if !ok || raw == nil {
			if f.Required {
				errs[f.Name] = "field is required"
			}
			continue
		}

		value, err := coerce(f.Type, raw)
		if err != nil {
			errs[f.Name] = err.Error()
			continue
		}
		clean[f.Name] = value
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return clean, nil
}

// coerce приводит значение из декодированного JSON к типу поля.
func coerce(t FieldType, raw any) (any, error) {
	switch t {
	case FieldString:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return v, nil

	case FieldInt:
		// JSON числа декодируются как float64
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}

	case FieldFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}

	case FieldBool:
		v, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return v, nil

	case FieldObject:
		v, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", raw)
		}
		return v, nil

	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}
