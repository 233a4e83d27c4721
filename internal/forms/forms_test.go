package forms

import (
	"errors"
	"testing"
)

func testSchema() *Schema {
	return NewSchema("Test",
		Field{Name: "plan", Type: FieldString, Required: true},
		Field{Name: "quantity", Type: FieldInt, Required: true},
		Field{Name: "note", Type: FieldString},
	)
}

func TestSchema_Validate_OK(t *testing.T) {
	clean, err := testSchema().Validate(map[string]any{
		"plan":     "pro",
		"quantity": float64(5), // JSON декодирует числа как float64
		"extra":    "ignored",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if clean["plan"] != "pro" {
		t.Errorf("expected plan=pro, got %v", clean["plan"])
	}
	if clean["quantity"] != 5 {
		t.Errorf("expected quantity coerced to int 5, got %v (%T)", clean["quantity"], clean["quantity"])
	}
	if _, ok := clean["extra"]; ok {
		t.Error("unknown keys should be dropped")
	}
}

func TestSchema_Validate_MissingRequired(t *testing.T) {
	_, err := testSchema().Validate(map[string]any{"plan": "pro"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Fields["quantity"] == "" {
		t.Errorf("expected error for quantity, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["note"]; ok {
		t.Error("optional field should not produce an error")
	}
}

func TestSchema_Validate_TypeMismatch(t *testing.T) {
	_, err := testSchema().Validate(map[string]any{
		"plan":     42,
		"quantity": 1.5,
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("expected errors for both fields, got %v", verr.Fields)
	}
}

func TestSchema_Validate_BoolAndObject(t *testing.T) {
	schema := NewSchema("",
		Field{Name: "ack", Type: FieldBool, Required: true},
		Field{Name: "opts", Type: FieldObject},
	)

	clean, err := schema.Validate(map[string]any{
		"ack":  true,
		"opts": map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean["ack"] != true {
		t.Errorf("expected ack=true, got %v", clean["ack"])
	}
	opts, ok := clean["opts"].(map[string]any)
	if !ok || opts["k"] != "v" {
		t.Errorf("expected opts object, got %v", clean["opts"])
	}
}

func TestSchema_FieldNames(t *testing.T) {
	names := testSchema().FieldNames()
	want := []string{"plan", "quantity", "note"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
		}
	}
}
