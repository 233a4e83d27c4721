package api

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/workflow"
)

func TestStartProcess_CountsStarted(t *testing.T) {
	reg := workflow.NewRegistry()
	reg.MustRegister(workflow.New("noop.task", domain.IntentSystem, nil, workflow.Of()))

	procs := newFakeProcessStore()
	mux := newTestMux(t, Config{
		ProcessRepo:  procs,
		CallbackRepo: newFakeCallbackStore(),
		Registry:     reg,
	})

	counter := telemetry.ProcessesStarted.WithLabelValues("noop.task")
	before := testutil.ToFloat64(counter)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/workflows/noop.task/processes", "{}")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(procs.created) != 1 {
		t.Fatalf("expected one created process, got %d", len(procs.created))
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected started counter +1, got +%v", got)
	}
}

func TestStartProcess_EngineLockedRejects(t *testing.T) {
	reg := workflow.NewRegistry()
	reg.MustRegister(workflow.New("noop.task", domain.IntentSystem, nil, workflow.Of()))

	procs := newFakeProcessStore()
	mux := newTestMux(t, Config{
		ProcessRepo:  procs,
		CallbackRepo: newFakeCallbackStore(),
		Registry:     reg,
		EngineRepo:   &fakeEngineStore{state: domain.EnginePausing},
	})

	counter := telemetry.ProcessesStarted.WithLabelValues("noop.task")
	before := testutil.ToFloat64(counter)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/workflows/noop.task/processes", "{}")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if len(procs.created) != 0 {
		t.Errorf("rejected start must not create a process, got %d", len(procs.created))
	}
	if got := testutil.ToFloat64(counter) - before; got != 0 {
		t.Errorf("rejected start must not count as started, got +%v", got)
	}
}
