package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	drepo "BotArena/internal/domain/repository"
	"BotArena/internal/evolution"
	"BotArena/internal/session"
	applogger "BotArena/pkg/logger"
)

type ArenaConfig struct {
	DiscoveryInterval time.Duration
	EvolutionInterval time.Duration
	SnapshotInterval  time.Duration
	Session           session.Config
	// finished sessions are remembered this long after their window closes, so rediscovery can't rerun them
	Retention time.Duration
}

// Arena discovers market windows, runs one session per (bot, window), evolves the population on a timer
// and publishes observer snapshots.
type Arena struct {
	deps      *session.Deps
	discovery drepo.MarketDiscovery
	evolution *evolution.Engine
	observer  *Observer
	cfg       ArenaConfig
	log       *applogger.Logger

	mu       sync.Mutex
	sessions map[models.SessionKey]*tracked

	fatal chan error
	wg    sync.WaitGroup
}

type tracked struct {
	s    *session.Session
	done bool
}

func NewArena(deps *session.Deps, discovery drepo.MarketDiscovery, evo *evolution.Engine, cfg ArenaConfig) *Arena {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 15 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	return &Arena{
		deps:      deps,
		discovery: discovery,
		evolution: evo,
		cfg:       cfg,
		log:       deps.Log.With("arena"),
		sessions:  make(map[models.SessionKey]*tracked),
		fatal:     make(chan error, 1),
	}
}

// SetObserver enables periodic status snapshots.
func (a *Arena) SetObserver(o *Observer) { a.observer = o }

// Run blocks until ctx ends or a session hits a persistence failure. In-flight sessions are
// cancelled and awaited before it returns. A ctx cancellation returns nil.
func (a *Arena) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.wg.Wait()
	}()

	discover := time.NewTicker(a.cfg.DiscoveryInterval)
	defer discover.Stop()

	var evolve, snapshot <-chan time.Time
	if a.cfg.EvolutionInterval > 0 && a.evolution != nil {
		t := time.NewTicker(a.cfg.EvolutionInterval)
		defer t.Stop()
		evolve = t.C
	}
	if a.cfg.SnapshotInterval > 0 && a.observer != nil {
		t := time.NewTicker(a.cfg.SnapshotInterval)
		defer t.Stop()
		snapshot = t.C
	}

	a.log.Info("arena started",
		applogger.Strings("bots", a.deps.Registry.IDs()),
		applogger.String("profile", string(a.deps.Risk.Profile())),
	)
	a.Discover(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("arena stopping", applogger.Int("active_sessions", a.ActiveSessions()))
			return nil
		case err := <-a.fatal:
			a.log.Error("arena halted", applogger.Error(err))
			return err
		case <-discover.C:
			a.Discover(ctx)
			a.prune()
		case <-evolve:
			a.evolve(ctx)
		case <-snapshot:
			a.observer.Snapshot(ctx)
		}
	}
}

// Discover starts a session for every live bot on every window whose decision deadline is still ahead.
func (a *Arena) Discover(ctx context.Context) {
	windows, err := a.discovery.ActiveWindows(ctx)
	if err != nil {
		a.deps.Metrics.RecordError("discovery")
		a.log.Warn("market discovery failed", applogger.Error(err))
		return
	}
	now := a.deps.Clock.Now()
	bots := a.deps.Registry.IDs()

	started := 0
	for _, w := range windows {
		if !now.Before(w.DecisionDeadline(a.cfg.Session.DecisionOffset)) {
			continue
		}
		for _, botID := range bots {
			if a.spawn(ctx, botID, w) {
				started++
			}
		}
	}
	if started > 0 {
		a.log.Info("sessions started", applogger.Int("count", started), applogger.Int("windows", len(windows)))
	}
}

func (a *Arena) spawn(ctx context.Context, botID string, w models.MarketWindow) bool {
	key := models.SessionKey{BotID: botID, MarketID: w.MarketID}
	a.mu.Lock()
	if _, ok := a.sessions[key]; ok {
		a.mu.Unlock()
		return false
	}
	tr := &tracked{s: session.New(a.deps, a.cfg.Session, botID, w)}
	a.sessions[key] = tr
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := tr.s.Run(ctx)

		a.mu.Lock()
		tr.done = true
		a.mu.Unlock()

		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, models.ErrPersistence):
			select {
			case a.fatal <- fmt.Errorf("session %s/%s: %w", botID, w.MarketID, err):
			default:
			}
		default:
			a.log.Warn("session ended with error",
				applogger.String("bot_id", botID),
				applogger.String("market_id", w.MarketID),
				applogger.Error(err),
			)
		}
	}()
	return true
}

// prune forgets finished sessions whose window closed more than Retention ago.
func (a *Arena) prune() {
	cutoff := a.deps.Clock.Now().Add(-a.cfg.Retention)
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, tr := range a.sessions {
		if tr.done && tr.s.View().CloseTime.Before(cutoff) {
			delete(a.sessions, key)
		}
	}
}

func (a *Arena) evolve(ctx context.Context) {
	_, err := a.evolution.RunEpoch(ctx)
	switch {
	case err == nil:
		if a.observer != nil {
			a.observer.Snapshot(ctx)
		}
	case errors.Is(err, models.ErrEvolutionInProgress):
		a.log.Info("evolution skipped, another epoch is running")
	default:
		a.deps.Metrics.RecordError("evolution")
		a.log.Error("evolution epoch failed", applogger.Error(err))
		if errors.Is(err, models.ErrPersistence) {
			select {
			case a.fatal <- err:
			default:
			}
		}
	}
}

// ActiveSessions counts sessions that have not finished.
func (a *Arena) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, tr := range a.sessions {
		if !tr.done {
			n++
		}
	}
	return n
}

// Sessions returns the view of every remembered session.
func (a *Arena) Sessions() []models.MarketSession {
	a.mu.Lock()
	list := make([]*tracked, 0, len(a.sessions))
	for _, tr := range a.sessions {
		list = append(list, tr)
	}
	a.mu.Unlock()

	out := make([]models.MarketSession, 0, len(list))
	for _, tr := range list {
		out = append(out, tr.s.View())
	}
	return out
}
