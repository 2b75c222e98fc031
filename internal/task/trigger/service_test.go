package trigger

import (
	"context"
	"strings"
	"testing"
	"time"

	"tickq/internal/config"
	"tickq/internal/eventbus"
	"tickq/internal/task/queue"
	"tickq/pkg/clock"
	"tickq/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    ParsedSpec
		wantErr bool
	}{
		{name: "cron five field", raw: "*/5 * * * *", want: ParsedSpec{Kind: SpecCron, Cron: "*/5 * * * *"}},
		{name: "cron six field", raw: "0 */5 * * * *", want: ParsedSpec{Kind: SpecCron, Cron: "0 */5 * * * *"}},
		{name: "descriptor", raw: "@hourly", want: ParsedSpec{Kind: SpecCron, Cron: "@hourly"}},
		{name: "forced cron", raw: "cron:  15 * * * *", want: ParsedSpec{Kind: SpecCron, Cron: "15 * * * *"}},
		{name: "duration", raw: "55m", want: ParsedSpec{Kind: SpecInterval, Every: 55 * time.Minute}},
		{name: "forced interval", raw: "every:2h30m", want: ParsedSpec{Kind: SpecInterval, Every: 2*time.Hour + 30*time.Minute}},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "garbage", raw: "soonish", wantErr: true},
		{name: "zero interval", raw: "0s", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) accepted", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q) = %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ParseSchedule(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func newTestService(t *testing.T) (*Service, *queue.Queue, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(0)
	q := queue.New(queue.Config{}, clk, logx.Nop(), eventbus.New())
	return New(q, logx.Nop()), q, clk
}

func TestStartRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t)
	if err := s.Apply([]config.TriggerConfig{{Name: "sync", Spec: "@hourly", Command: "missing"}}); err != nil {
		t.Fatalf("Apply() = %v", err)
	}
	err := s.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("Start() = %v, want unknown command error", err)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t)
	if err := s.Register("noop", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply([]config.TriggerConfig{{Name: "sync", Spec: "not-a-spec", Command: "noop"}}); err != nil {
		t.Fatalf("Apply() = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() accepted an invalid schedule")
	}
}

func TestResolverFallback(t *testing.T) {
	t.Parallel()

	s, q, clk := newTestService(t)
	var got string
	err := s.RegisterResolver(func(name string) (Command, bool) {
		rest, ok := strings.CutPrefix(name, "echo:")
		if !ok {
			return nil, false
		}
		return func() error { got = rest; return nil }, true
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Apply([]config.TriggerConfig{{Name: "say", Spec: "@hourly", Command: "echo:hi"}}); err != nil {
		t.Fatalf("Apply() = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer s.Stop(context.Background())

	s.fire(config.TriggerConfig{Name: "say", Spec: "@hourly", Command: "echo:hi"})
	clk.Advance(1)
	q.Tick()
	if got != "hi" {
		t.Fatalf("resolved command did not run, got %q", got)
	}
}

func TestFireEnqueuesTask(t *testing.T) {
	t.Parallel()

	s, q, clk := newTestService(t)
	ran := false
	if err := s.Register("probe", func() error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}

	def := config.TriggerConfig{
		Name:        "probe-run",
		Spec:        "@hourly",
		Command:     "probe",
		StallAfter:  "2s",
		RetryDelay:  "1s",
		MaxAttempts: 3,
	}
	s.fire(def)

	clk.Advance(1)
	q.Tick()
	if !ran {
		t.Fatal("command body did not run")
	}
	snap := q.Snapshot()
	if snap.Completed != 1 {
		t.Fatalf("completed = %d, want 1", snap.Completed)
	}
	if len(snap.History) != 1 || snap.History[0].CustomID != "probe-run" {
		t.Fatalf("history = %+v", snap.History)
	}
}

func TestFireMapsRetrySettings(t *testing.T) {
	t.Parallel()

	def := config.TriggerConfig{
		Name:        "r",
		Spec:        "@hourly",
		Command:     "c",
		Blocking:    true,
		Timeout:     "10s",
		StallAfter:  "2s",
		RetryDelay:  "500ms",
		MaxAttempts: 4,
		StopOnFail:  true,
	}
	spec, err := buildSpec(def, func() error { return nil })
	if err != nil {
		t.Fatalf("buildSpec() = %v", err)
	}
	if spec.CustomID != "r" || !spec.Blocking || !spec.StopOnFail {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v", spec.Timeout)
	}
	if spec.Retry == nil {
		t.Fatal("retry policy not set")
	}
	if spec.Retry.StallAfter != 2*time.Second || spec.Retry.Delay != 500*time.Millisecond || spec.Retry.MaxAttempts != 4 {
		t.Fatalf("retry = %+v", spec.Retry)
	}
}

func TestFireWithoutStallAfterDisablesRetry(t *testing.T) {
	t.Parallel()

	spec, err := buildSpec(config.TriggerConfig{Name: "n", Spec: "@hourly", Command: "c"}, func() error { return nil })
	if err != nil {
		t.Fatalf("buildSpec() = %v", err)
	}
	if spec.Retry != nil {
		t.Fatalf("retry = %+v, want nil", spec.Retry)
	}
}
