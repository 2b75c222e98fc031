// Package trigger turns cron schedules into queue admissions. Each
// configured trigger names a registered command; every firing enqueues one
// task built from the trigger's retry and timeout settings.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickq/internal/config"
	"tickq/internal/task/queue"
	"tickq/pkg/logx"
)

// Command is a named piece of work a trigger can enqueue.
type Command func() error

// Resolver maps command names the registry doesn't know to commands, for
// families like "shell:<cmdline>".
type Resolver func(name string) (Command, bool)

// Service owns the cron runner and the command registry.
type Service struct {
	log   logx.Logger
	queue *queue.Queue

	parser cron.Parser

	mu        sync.Mutex
	c         *cron.Cron
	defs      []config.TriggerConfig
	entries   map[string]cron.EntryID
	commands  map[string]Command
	resolvers []Resolver

	// lastWarn throttles repeated enqueue-failure warnings per trigger.
	lastWarn map[string]time.Time
}

func New(q *queue.Queue, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		queue: q,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
			cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:  map[string]cron.EntryID{},
		commands: map[string]Command{},
		lastWarn: map[string]time.Time{},
	}
}

// Register binds a command name usable from trigger configs. Registering
// a name twice replaces the previous command.
func (s *Service) Register(name string, cmd Command) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("command name required")
	}
	if cmd == nil {
		return fmt.Errorf("command %q: nil func", name)
	}
	s.mu.Lock()
	s.commands[name] = cmd
	s.mu.Unlock()
	return nil
}

// RegisterResolver adds a fallback used when a trigger's command name is
// not in the registry. Resolvers are tried in registration order.
func (s *Service) RegisterResolver(r Resolver) error {
	if r == nil {
		return fmt.Errorf("nil resolver")
	}
	s.mu.Lock()
	s.resolvers = append(s.resolvers, r)
	s.mu.Unlock()
	return nil
}

func (s *Service) resolveLocked(name string) Command {
	if cmd, ok := s.commands[name]; ok {
		return cmd
	}
	for _, r := range s.resolvers {
		if cmd, ok := r(name); ok {
			return cmd
		}
	}
	return nil
}

// Apply replaces the trigger definitions. If the runner is live, entries
// are re-registered in place.
func (s *Service) Apply(defs []config.TriggerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append([]config.TriggerConfig(nil), defs...)
	if s.c == nil {
		return nil
	}
	return s.registerAllLocked()
}

// Start begins cron triggering. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser))
	if err := s.registerAllLocked(); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("triggers", len(s.defs)))
	return nil
}

// Stop halts cron triggering, waiting for in-flight fire callbacks.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerAllLocked() error {
	for _, id := range s.entries {
		s.c.Remove(id)
	}
	s.entries = map[string]cron.EntryID{}

	for i := range s.defs {
		def := s.defs[i]
		if s.resolveLocked(def.Command) == nil {
			return fmt.Errorf("trigger %q: unknown command %q", def.Name, def.Command)
		}
		ps, err := ParseSchedule(def.Spec)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", def.Name, err)
		}
		fire := func() { s.fire(def) }

		var id cron.EntryID
		switch ps.Kind {
		case SpecInterval:
			id = s.c.Schedule(cron.Every(ps.Every), cron.FuncJob(fire))
		default:
			id, err = s.c.AddFunc(ps.Cron, fire)
			if err != nil {
				return fmt.Errorf("trigger %q: invalid cron %q: %w", def.Name, ps.Cron, err)
			}
		}
		s.entries[def.Name] = id
	}
	return nil
}

func (s *Service) fire(def config.TriggerConfig) {
	s.mu.Lock()
	cmd := s.resolveLocked(def.Command)
	s.mu.Unlock()
	if cmd == nil {
		return
	}

	spec, err := buildSpec(def, cmd)
	if err != nil {
		s.warnThrottled(def.Name, "trigger misconfigured", err)
		return
	}
	if _, err := s.queue.Enqueue(spec); err != nil {
		s.warnThrottled(def.Name, "enqueue failed", err)
		return
	}
	s.log.Debug("trigger fired", logx.String("trigger", def.Name), logx.String("command", def.Command))
}

func (s *Service) warnThrottled(name, msg string, err error) {
	s.mu.Lock()
	last := s.lastWarn[name]
	now := time.Now()
	if now.Sub(last) < time.Minute {
		s.mu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.mu.Unlock()
	s.log.Warn(msg, logx.String("trigger", name), logx.Err(err))
}

// buildSpec maps a trigger definition onto an admission spec.
func buildSpec(def config.TriggerConfig, cmd Command) (queue.Spec, error) {
	timeout, err := config.ParseDurationField("timeout", def.Timeout)
	if err != nil {
		return queue.Spec{}, err
	}
	stallAfter, err := config.ParseDurationField("stall_after", def.StallAfter)
	if err != nil {
		return queue.Spec{}, err
	}
	retryDelay, err := config.ParseDurationField("retry_delay", def.RetryDelay)
	if err != nil {
		return queue.Spec{}, err
	}

	spec := queue.Spec{
		CustomID:   def.Name,
		Action:     queue.Action(cmd),
		Blocking:   def.Blocking,
		Timeout:    timeout,
		StopOnFail: def.StopOnFail,
		Meta:       map[string]any{"trigger": def.Name, "command": def.Command},
	}
	if stallAfter > 0 {
		spec.Retry = &queue.RetryPolicy{
			MaxAttempts: def.MaxAttempts,
			StallAfter:  stallAfter,
			Delay:       retryDelay,
		}
	}
	return spec, nil
}
