package evagent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/evcap/evqueue"
	"github.com/hazyhaar/evcap/idgen"
	"github.com/hazyhaar/evcap/report"
)

// DepsBuilder wires session-scoped collaborators (snapshot provider,
// mutation collector, network source) for a new capture target.
type DepsBuilder func(ctx context.Context, sessionID, pageURL string) (Deps, error)

// Manager runs one Agent plus one event queue per capture target.
type Manager struct {
	cfg      Config
	queueCfg evqueue.Config
	build    DepsBuilder
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session pairs an agent with its dedicated queue.
type Session struct {
	Agent *Agent
	Queue *evqueue.Queue

	cancel context.CancelFunc
}

// Stats merges the agent's session counters with the queue's per-tier
// counters into one pollable payload.
func (s *Session) Stats() SessionStats {
	st := s.Agent.Stats()
	qs := s.Queue.Stats()
	st.Queue = &qs
	return st
}

// NewManager creates a Manager. build is called once per Start to wire
// the session's observers.
func NewManager(cfg Config, queueCfg evqueue.Config, build DepsBuilder, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		queueCfg: queueCfg,
		build:    build,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start begins capturing a page. It creates the session, installs the
// queue (replaying any recovered critical events), and launches the
// queue's flush loop.
func (m *Manager) Start(ctx context.Context, pageURL string) (*Session, error) {
	sessionID := idgen.Prefixed("sess_", idgen.Default)()

	deps, err := m.build(ctx, sessionID, pageURL)
	if err != nil {
		return nil, fmt.Errorf("evagent: wire session %s: %w", sessionID, err)
	}
	if deps.Reports == nil {
		deps.Reports = report.NewWriter(m.cfg.ReportDir)
	}
	if deps.Logger == nil {
		deps.Logger = m.logger
	}

	agent := New(sessionID, pageURL, m.cfg, deps)

	var qopts []evqueue.Option
	qopts = append(qopts, evqueue.WithLogger(deps.Logger))
	if m.queueCfg.DurablePath != "" {
		durable, err := evqueue.OpenDurable(m.queueCfg.DurablePath)
		if err != nil {
			return nil, fmt.Errorf("evagent: open durable store: %w", err)
		}
		qopts = append(qopts, evqueue.WithDurable(durable))
	}
	queue := evqueue.New(m.queueCfg, agent, qopts...)

	sessCtx, cancel := context.WithCancel(ctx)
	if err := agent.Start(sessCtx); err != nil {
		cancel()
		return nil, err
	}
	if err := queue.Install(sessCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("evagent: install queue: %w", err)
	}
	go queue.Run(sessCtx)

	sess := &Session{Agent: agent, Queue: queue, cancel: cancel}
	if deps.Attach != nil {
		if err := deps.Attach(sessCtx, sess); err != nil {
			cancel()
			return nil, fmt.Errorf("evagent: attach session %s: %w", sessionID, err)
		}
	}
	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the session by ID, or nil when unknown.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Stop finalizes the session: the queue is flushed one last time so no
// pending event misses verification, then the agent runs gap analysis
// and writes the report. The session stays registered (and retryable)
// if the report write fails.
func (m *Manager) Stop(ctx context.Context, sessionID string) (*report.Report, error) {
	sess := m.Get(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("evagent: unknown session %s", sessionID)
	}

	sess.Queue.EmergencyFlush(ctx, "session stop")
	sess.Agent.NotePersistFailures(sess.Queue.Stats().PersistFailures)

	rep, err := sess.Agent.Stop(ctx)
	if err != nil {
		return nil, err
	}

	sess.cancel()
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return rep, nil
}

// StopAll finalizes every live session. Errors are logged, not returned;
// shutdown keeps going.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil {
			m.logger.Error("evagent: stop session failed",
				"session_id", id, "error", err)
		}
	}
}

// ReportPath is where the detailed report for a session lands.
func (m *Manager) ReportPath(sessionID string) string {
	return filepath.Join(m.cfg.ReportDir, sessionID+".report.json")
}

// List returns stats for every live session.
func (m *Manager) List() []SessionStats {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	return out
}
