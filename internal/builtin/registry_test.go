package builtin

import "testing"

func TestRegistry_DispatchRunsRegisteredHandler(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(Tasks, func(root string, args []string) (Envelope, error) {
		return NewSuccess("tasks", root), nil
	})

	env, ok, err := reg.Dispatch(Tasks, "/ws", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected Dispatch to report a registered handler")
	}
	if !env.OK || env.Result != "/ws" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRegistry_DispatchReportsUnregisteredName(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	_, ok, err := reg.Dispatch(Doctor, "/ws", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected Dispatch to report no handler registered for doctor")
	}
}

func TestRegistry_RegisterOverwritesExistingHandler(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(Tasks, func(root string, args []string) (Envelope, error) {
		return NewSuccess("tasks", "first"), nil
	})
	reg.Register(Tasks, func(root string, args []string) (Envelope, error) {
		return NewSuccess("tasks", "second"), nil
	})

	env, _, _ := reg.Dispatch(Tasks, "/ws", nil)
	if env.Result != "second" {
		t.Fatalf("expected the later registration to win, got %v", env.Result)
	}
}

func TestNewError_BuildsFailureEnvelope(t *testing.T) {
	t.Parallel()
	env := NewError("tasks", "task_not_defined", "no task named foo", "catalog /ws")
	if env.OK {
		t.Fatal("expected OK=false")
	}
	if env.Error == nil || env.Error.Kind != "task_not_defined" {
		t.Fatalf("unexpected error payload: %+v", env.Error)
	}
	if len(env.Error.Evidence) != 1 || env.Error.Evidence[0] != "catalog /ws" {
		t.Fatalf("unexpected evidence: %v", env.Error.Evidence)
	}
}
