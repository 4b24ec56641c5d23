package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/app/readiness"
	"github.com/dkeye/chatcall/internal/app/timeline"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/rs/zerolog/log"
)

// Orchestrator wraps one protocol client and everything derived from it:
// readiness, timeline routing, message publishing and the call manager.
type Orchestrator struct {
	Client   core.ProtocolClient
	Store    core.SessionStore
	Tracker  *readiness.Tracker
	Router   *timeline.Router
	Messages *timeline.MessageHandler
	Calls    *call.Manager

	mu      sync.Mutex
	started bool
}

type Deps struct {
	Client core.ProtocolClient
	Store  core.SessionStore
	Media  core.MediaTransport
	Creds  core.CredentialSource
	Call   call.Config
}

func New(d Deps) *Orchestrator {
	msgs := timeline.NewMessageHandler()
	router := timeline.NewRouter(msgs)
	o := &Orchestrator{
		Client:   d.Client,
		Store:    d.Store,
		Tracker:  readiness.New(d.Client, router.Route),
		Router:   router,
		Messages: msgs,
		Calls:    call.NewManager(d.Client, d.Media, d.Creds, d.Client.UserID, d.Call),
	}
	d.Client.OnSyncState(o.Tracker.OnSync)
	return o
}

// Login authenticates, starts syncing and persists the session.
func (o *Orchestrator) Login(ctx context.Context, username, password string) (domain.Session, error) {
	s, err := o.Client.Login(ctx, username, password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	if err := o.start(ctx, s); err != nil {
		return domain.Session{}, err
	}
	if o.Store != nil {
		if err := o.Store.Save(s); err != nil {
			log.Warn().Str("module", "app.orch").Err(err).Msg("persisting session failed")
		}
	}
	return s, nil
}

// Restore resumes a previously persisted session.
func (o *Orchestrator) Restore(ctx context.Context, s domain.Session) error {
	if !s.Complete() {
		return fmt.Errorf("restore: incomplete session: %w", domain.ErrClientUninitialized)
	}
	return o.start(ctx, s)
}

func (o *Orchestrator) start(ctx context.Context, s domain.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if err := o.Client.Start(ctx, s); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	o.started = true
	log.Info().Str("module", "app.orch").Str("user", string(s.UserID)).Msg("client started")
	return nil
}

// Stop ends the call and the sync loop but keeps the stored session.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.Calls.Cleanup(ctx)

	o.mu.Lock()
	wasStarted := o.started
	o.started = false
	o.mu.Unlock()

	if wasStarted {
		o.Client.Stop()
	}
	o.Tracker.Reset()
	log.Info().Str("module", "app.orch").Msg("client stopped")
}

// Logout tears everything down and forgets the session. Local teardown
// completes even when the server call fails.
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.requireClient(); err != nil {
		return err
	}
	o.Calls.Cleanup(ctx)

	var errs []error
	if err := o.Client.Logout(ctx); err != nil {
		errs = append(errs, fmt.Errorf("logout: %w", err))
	}
	o.Stop(ctx)
	if o.Store != nil {
		if err := o.Store.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("clear session: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

func (o *Orchestrator) requireClient() error {
	if !o.Started() {
		return domain.ErrClientUninitialized
	}
	return nil
}

// ready gates room operations on sync readiness.
func (o *Orchestrator) ready(ctx context.Context) error {
	if err := o.requireClient(); err != nil {
		return err
	}
	return o.Tracker.Wait(ctx)
}

func (o *Orchestrator) UserID() domain.UserID { return o.Client.UserID() }

func (o *Orchestrator) MessageStream() stream.Source[domain.Message] { return o.Messages.Messages() }

func (o *Orchestrator) Readiness() stream.Source[bool] { return o.Tracker.Readiness() }
