package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/workflow"
)

// fakeSubjectStore — in-memory SubjectStore.
type fakeSubjectStore struct {
	subjects map[uuid.UUID]*domain.Subject
}

func newFakeSubjectStore(subjects ...*domain.Subject) *fakeSubjectStore {
	store := &fakeSubjectStore{subjects: make(map[uuid.UUID]*domain.Subject)}
	for _, s := range subjects {
		store.subjects[s.ID] = s
	}
	return store
}

func (f *fakeSubjectStore) Load(ctx context.Context, id uuid.UUID) (*domain.Subject, error) {
	s, ok := f.subjects[id]
	if !ok {
		return nil, fmt.Errorf("subject %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSubjectStore) Save(ctx context.Context, subject *domain.Subject) error {
	copied := *subject
	f.subjects[subject.ID] = &copied
	return nil
}

// fakeProvisioner — Provisioner, запоминающий запросы.
type fakeProvisioner struct {
	provisions   []ProvisionRequest
	deprovisions []ProvisionRequest
}

func (f *fakeProvisioner) StartProvision(ctx context.Context, req ProvisionRequest) (string, error) {
	f.provisions = append(f.provisions, req)
	return "job-1", nil
}

func (f *fakeProvisioner) StartDeprovision(ctx context.Context, req ProvisionRequest) (string, error) {
	f.deprovisions = append(f.deprovisions, req)
	return "job-2", nil
}

// --- Catalog Tests ---

func TestNew_RegistersAllWorkflows(t *testing.T) {
	reg, err := New(Deps{
		Subjects:    newFakeSubjectStore(),
		Provisioner: &fakeProvisioner{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := reg.Names()
	want := []string{
		"subscription.create",
		"subscription.modify",
		"subscription.terminate",
		"subscription.validate",
	}
	if len(names) != len(want) {
		t.Fatalf("expected %d workflows, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
		}
	}

	// Lifecycle-валидация пройдена: create нормализован и завершается sync
	wf, err := reg.Get("subscription.create")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := wf.Steps.At(wf.Steps.Len() - 2)
	if last.Name != "sync" {
		t.Errorf("expected sync before done, got %q", last.Name)
	}
}

func TestValidateJobResult(t *testing.T) {
	res := validateJobResult(map[string]any{
		"status":  "completed",
		"details": map[string]any{"ip": "10.0.0.1"},
	}, "result")
	if res.Kind() != workflow.KindContinue {
		t.Fatalf("expected continue, got %v", res.Kind())
	}
	if _, ok := res.Update().Get("result"); !ok {
		t.Error("expected details under result key")
	}

	res = validateJobResult(map[string]any{"status": "failed", "error": "quota exceeded"}, "result")
	if res.Kind() != workflow.KindFail {
		t.Fatalf("expected fail, got %v", res.Kind())
	}
	if res.Failure().Retryable {
		t.Error("rejected job is a fatal failure")
	}
}

func TestCheckConfigStep(t *testing.T) {
	subject := &domain.Subject{
		ID:     uuid.New(),
		State:  domain.SubjectActive,
		InSync: true,
		Config: map[string]any{"plan": "pro"},
	}
	store := newFakeSubjectStore(subject)

	in := domain.NewState()
	in.Set(workflow.KeySubjectID, subject.ID.String())

	res := checkConfigStep(store).Invoke(context.Background(), in)
	if res.Kind() != workflow.KindContinue {
		t.Fatalf("expected continue, got %v (%v)", res.Kind(), res.Failure())
	}

	raw, ok := res.Update().Get(keyValidationReport)
	if !ok {
		t.Fatal("expected validation report in update")
	}
	report := raw.(map[string]any)
	if report["state"] != string(domain.SubjectActive) {
		t.Errorf("expected state ACTIVE in report, got %v", report["state"])
	}
	missing, _ := report["missing_keys"].([]string)
	if len(missing) != 1 || missing[0] != "quantity" {
		t.Errorf("expected quantity missing, got %v", missing)
	}
}

// --- HTTPProvisioner Tests ---

func TestHTTPProvisioner_StartProvision(t *testing.T) {
	var received ProvisionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/provision" {
			t.Errorf("expected /provision, got %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
	}))
	defer server.Close()

	prov := NewHTTPProvisioner(server.URL)
	jobID, err := prov.StartProvision(context.Background(), ProvisionRequest{
		SubjectID:     "sub-1",
		Config:        map[string]any{"plan": "pro"},
		CallbackToken: "token-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "job-42" {
		t.Errorf("expected job-42, got %s", jobID)
	}
	if received.CallbackToken != "token-1" {
		t.Errorf("expected callback token forwarded, got %q", received.CallbackToken)
	}
}

func TestHTTPProvisioner_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	prov := NewHTTPProvisioner(server.URL)
	_, err := prov.StartDeprovision(context.Background(), ProvisionRequest{SubjectID: "sub-1"})
	if !errors.Is(err, ErrProvisionRequest) {
		t.Fatalf("expected ErrProvisionRequest, got %v", err)
	}
}

func TestHTTPProvisioner_MissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	prov := NewHTTPProvisioner(server.URL)
	_, err := prov.StartProvision(context.Background(), ProvisionRequest{SubjectID: "sub-1"})
	if !errors.Is(err, ErrProvisionRequest) {
		t.Fatalf("expected ErrProvisionRequest, got %v", err)
	}
}
