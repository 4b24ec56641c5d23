// Package matrix implements the protocol client over mautrix.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

var ErrNotStarted = errors.New("matrix client not started")

const defaultDeviceName = "chatcall"

type Config struct {
	HomeserverURL string
	DeviceName    string
}

// Client is the mautrix-backed core.ProtocolClient. Callbacks run on the
// sync goroutine and are never invoked while the client lock is held.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	cli       *mautrix.Client
	cancel    context.CancelFunc
	done      chan struct{}
	state     domain.SyncState
	syncFns   []func(state, prev domain.SyncState)
	rooms     map[domain.RoomID]struct{}
	prevBatch map[domain.RoomID]string
	listeners map[domain.RoomID]map[int]core.TimelineFunc
	nextID    int
	calls     map[string]*groupCall
}

var _ core.ProtocolClient = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	return &Client{
		cfg:       cfg,
		log:       log.With().Str("module", "adapters.matrix").Logger(),
		rooms:     make(map[domain.RoomID]struct{}),
		prevBatch: make(map[domain.RoomID]string),
		listeners: make(map[domain.RoomID]map[int]core.TimelineFunc),
		calls:     make(map[string]*groupCall),
	}
}

func (c *Client) newMautrix(user domain.UserID, token string) (*mautrix.Client, error) {
	cli, err := mautrix.NewClient(c.cfg.HomeserverURL, user, token)
	if err != nil {
		return nil, fmt.Errorf("matrix client for %s: %w", c.cfg.HomeserverURL, err)
	}
	cli.Log = c.log
	return cli, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (domain.Session, error) {
	cli, err := c.newMautrix("", "")
	if err != nil {
		return domain.Session{}, err
	}
	resp, err := cli.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: username},
		Password:                 password,
		InitialDeviceDisplayName: c.cfg.DeviceName,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("login %s: %w", username, err)
	}
	c.log.Info().Str("user", string(resp.UserID)).Str("device", string(resp.DeviceID)).Msg("logged in")
	return domain.Session{UserID: resp.UserID, AccessToken: resp.AccessToken, DeviceID: resp.DeviceID}, nil
}

// Start binds the session and runs the sync loop until Stop.
func (c *Client) Start(_ context.Context, s domain.Session) error {
	cli, err := c.newMautrix(s.UserID, s.AccessToken)
	if err != nil {
		return err
	}
	cli.DeviceID = s.DeviceID
	cli.Syncer = &syncer{DefaultSyncer: mautrix.NewDefaultSyncer(), c: c}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.cli != nil && c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cli, c.cancel, c.done = cli, cancel, done
	c.mu.Unlock()

	c.setSync(domain.SyncPreparing)
	go func() {
		defer close(done)
		err := cli.SyncWithContext(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("sync loop stopped")
		}
		c.setSync(domain.SyncStopped)
	}()
	c.log.Info().Str("user", string(s.UserID)).Msg("sync started")
	return nil
}

// Stop ends the sync loop and waits for it to exit. The session stays
// bound so Logout still works.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done, cli := c.cancel, c.done, c.cli
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cli.StopSync()
	cancel()
	<-done
}

func (c *Client) Logout(ctx context.Context) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	_, err = cli.Logout(ctx)
	c.Stop()

	c.mu.Lock()
	c.cli = nil
	c.rooms = make(map[domain.RoomID]struct{})
	c.prevBatch = make(map[domain.RoomID]string)
	c.calls = make(map[string]*groupCall)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) UserID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return ""
	}
	return c.cli.UserID
}

func (c *Client) client() (*mautrix.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil, ErrNotStarted
	}
	return c.cli, nil
}

func (c *Client) OnSyncState(fn func(state, prev domain.SyncState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFns = append(c.syncFns, fn)
}

func (c *Client) setSync(state domain.SyncState) {
	c.mu.Lock()
	prev := c.state
	if prev == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	fns := append([]func(state, prev domain.SyncState){}, c.syncFns...)
	c.mu.Unlock()

	c.log.Debug().Str("state", state.String()).Str("prev", prev.String()).Msg("sync state")
	for _, fn := range fns {
		fn(state, prev)
	}
}

func (c *Client) Rooms() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

func (c *Client) addRoom(room domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) OnTimeline(room domain.RoomID, fn core.TimelineFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	key := c.nextID
	if c.listeners[room] == nil {
		c.listeners[room] = make(map[int]core.TimelineFunc)
	}
	c.listeners[room][key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners[room], key)
			if len(c.listeners[room]) == 0 {
				delete(c.listeners, room)
			}
		})
	}
}

// dispatch hands events to the room's listeners in listener order.
func (c *Client) dispatch(room domain.RoomID, evts []*event.Event, historical bool) {
	c.mu.Lock()
	keys := make([]int, 0, len(c.listeners[room]))
	for k := range c.listeners[room] {
		keys = append(keys, k)
	}
	fns := make([]core.TimelineFunc, 0, len(keys))
	sort.Ints(keys)
	for _, k := range keys {
		fns = append(fns, c.listeners[room][k])
	}
	c.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	for _, evt := range evts {
		ev := toTimelineEvent(room, evt)
		for _, fn := range fns {
			fn(ev, room, historical)
		}
	}
}

func toTimelineEvent(room domain.RoomID, evt *event.Event) core.TimelineEvent {
	roomID := evt.RoomID
	if roomID == "" {
		roomID = room
	}
	return core.TimelineEvent{
		Type:      evt.Type.Type,
		EventID:   evt.ID,
		RoomID:    roomID,
		Sender:    evt.Sender,
		Timestamp: evt.Timestamp,
		Content:   evt.Content.VeryRaw,
	}
}
