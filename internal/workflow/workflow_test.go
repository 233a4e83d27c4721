package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/forms"
)

func noopStep(name string) Step {
	return NewStep(name, func(ctx context.Context, in domain.State) Result {
		return Continue(domain.NewState())
	})
}

// --- StepList Tests ---

func TestStepList_ThenDoesNotMutate(t *testing.T) {
	base := Of(noopStep("a"))
	extended := base.Then(noopStep("b"))

	if base.Len() != 1 {
		t.Errorf("Then mutated receiver: len=%d", base.Len())
	}
	if extended.Len() != 2 {
		t.Errorf("expected 2 steps, got %d", extended.Len())
	}
	if extended.At(1).Name != "b" {
		t.Errorf("expected appended step last, got %q", extended.At(1).Name)
	}
}

func TestStepList_ConcatAssociative(t *testing.T) {
	a := Of(noopStep("a"))
	b := Of(noopStep("b"))
	c := Of(noopStep("c"))

	left := Concat(Concat(a, b), c)
	right := Concat(a, Concat(b, c))

	if left.Len() != right.Len() {
		t.Fatalf("lengths differ: %d vs %d", left.Len(), right.Len())
	}
	for i := 0; i < left.Len(); i++ {
		if left.At(i).Name != right.At(i).Name {
			t.Errorf("step %d differs: %q vs %q", i, left.At(i).Name, right.At(i).Name)
		}
	}
}

func TestStepList_Normalize(t *testing.T) {
	// Конкатенация двух уже нормализованных списков
	a := Of(noopStep("a")).Normalize()
	b := Of(noopStep("b")).Normalize()
	merged := Concat(a, b).Normalize()

	if merged.Len() != 4 {
		t.Fatalf("expected begin+a+b+done, got %d steps", merged.Len())
	}
	if merged.At(0).Name != StepNameBegin {
		t.Errorf("expected first step begin, got %q", merged.At(0).Name)
	}
	if merged.At(merged.Len()-1).Name != StepNameDone {
		t.Errorf("expected last step done, got %q", merged.At(merged.Len()-1).Name)
	}
	for i := 1; i < merged.Len()-1; i++ {
		if merged.At(i).IsSentinel() {
			t.Errorf("sentinel in the middle at %d", i)
		}
	}
}

// --- Step Tests ---

func TestInputStep_InvokeSuspends(t *testing.T) {
	form := forms.NewSchema("Input",
		forms.Field{Name: "x", Type: forms.FieldInt, Required: true},
	)
	step := InputStep("ask", form)

	if !step.IsInput() {
		t.Fatal("expected input step")
	}

	res := step.Invoke(context.Background(), domain.NewState())
	if res.Kind() != KindSuspend {
		t.Fatalf("expected suspend, got %v", res.Kind())
	}
	if res.Form() != form {
		t.Error("suspend should carry the step form")
	}

	// Provides выводится из полей формы
	if len(step.Provides) != 1 || step.Provides[0] != "x" {
		t.Errorf("expected provides [x], got %v", step.Provides)
	}
}

func TestStep_SentinelIsIdentity(t *testing.T) {
	res := Begin().Invoke(context.Background(), domain.NewState())
	if res.Kind() != KindContinue {
		t.Fatalf("expected continue, got %v", res.Kind())
	}
	if res.Update().Len() != 0 {
		t.Errorf("sentinel should not update state")
	}
}

// --- Registry Tests ---

func TestRegistry_RegisterNormalizes(t *testing.T) {
	reg := NewRegistry()
	wf := New("test", domain.IntentSystem, nil, Of(noopStep("a")))

	if err := reg.Register(wf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := reg.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Steps.At(0).Name != StepNameBegin {
		t.Error("registered workflow should be normalized")
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(New("dup", domain.IntentSystem, nil, Of())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := reg.Register(New("dup", domain.IntentSystem, nil, Of()))
	if !errors.Is(err, ErrWorkflowExists) {
		t.Fatalf("expected ErrWorkflowExists, got %v", err)
	}
}

func TestRegistry_UnnamedWorkflow(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(New("", domain.IntentSystem, nil, Of()))
	if !errors.Is(err, ErrUnnamedWorkflow) {
		t.Fatalf("expected ErrUnnamedWorkflow, got %v", err)
	}
}

func TestRegistry_UnboundRequirement(t *testing.T) {
	reg := NewRegistry()

	// Шаг требует ключ, который никто не предоставляет
	step := noopStep("needs").WithRequires("missing_key")
	err := reg.Register(New("bad", domain.IntentSystem, nil, Of(step)))
	if !errors.Is(err, ErrUnboundRequirement) {
		t.Fatalf("expected ErrUnboundRequirement, got %v", err)
	}
}

func TestRegistry_RequirementsCoveredByChain(t *testing.T) {
	reg := NewRegistry()

	producer := noopStep("producer").WithProvides("value")
	consumer := noopStep("consumer").WithRequires("value")

	err := reg.Register(New("chain", domain.IntentSystem, nil, Of(producer, consumer)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_RequirementsCoveredByInitialForm(t *testing.T) {
	reg := NewRegistry()

	form := forms.NewSchema("",
		forms.Field{Name: "plan", Type: forms.FieldString, Required: true},
	)
	consumer := noopStep("consumer").WithRequires("plan", KeySubjectID)

	err := reg.Register(New("form", domain.IntentValidate, form, Of(consumer)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_ValidatorRejects(t *testing.T) {
	sentinel := errors.New("rejected")
	reg := NewRegistry(WithValidator(func(wf *Workflow) error {
		return sentinel
	}))

	err := reg.Register(New("any", domain.IntentSystem, nil, Of()))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected validator error, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(New("b", domain.IntentSystem, nil, Of()))
	reg.MustRegister(New("a", domain.IntentSystem, nil, Of()))

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted names [a b], got %v", names)
	}
}
