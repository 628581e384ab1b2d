package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
}

func (s recordingService) Name() string { return s.name }

func (s recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.log = append(*s.log, "start:"+s.name)
	return nil
}

func (s recordingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordingService{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("unexpected log: %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("step %d: want %s got %s", i, want[i], log[i])
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var log []string
	m := NewManager()
	_ = m.Register(recordingService{name: "a", log: &log})
	_ = m.Register(recordingService{name: "b", log: &log, startErr: errors.New("boom")})
	_ = m.Register(recordingService{name: "c", log: &log})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if len(log) != 2 || log[0] != "start:a" || log[1] != "stop:a" {
		t.Fatalf("unexpected log: %v", log)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "x"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	_ = m.Start(context.Background())
	if err := m.Register(NoopService{ServiceName: "y"}); err == nil {
		t.Fatalf("expected registration to close after start")
	}
}

func TestManagerRestart(t *testing.T) {
	var log []string
	m := NewManager()
	_ = m.Register(recordingService{name: "a", log: &log})
	_ = m.Register(recordingService{name: "b", log: &log})
	ctx := context.Background()

	if err := m.Restart(ctx, "a"); err == nil {
		t.Fatal("expected restart to fail before start")
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	log = nil
	if err := m.Restart(ctx, "b"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(log) != 2 || log[0] != "stop:b" || log[1] != "start:b" {
		t.Fatalf("unexpected log: %v", log)
	}
	if err := m.Restart(ctx, "missing"); err == nil {
		t.Fatal("expected unknown service to fail")
	}
}
