package rooms

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

// Manager is the room registry. It spawns a controller the first time a room
// is joined, routes joins to live controllers and finalizes every room on
// shutdown. Controllers remove themselves from the registry when they reap.
type Manager struct {
	cfg    Config
	log    *utils.Logger
	store  DurableStore
	cache  WarmCache
	writer SnapshotWriter

	mu     sync.RWMutex
	rooms  map[uuid.UUID]*Controller
	closed bool
}

// NewManager creates an empty registry.
func NewManager(cfg Config, log *utils.Logger, store DurableStore, cache WarmCache, writer SnapshotWriter) *Manager {
	return &Manager{
		cfg:    cfg,
		log:    log,
		store:  store,
		cache:  cache,
		writer: writer,
		rooms:  make(map[uuid.UUID]*Controller),
	}
}

// getOrCreate returns the registered controller for roomID, spawning one when
// the room is not live yet.
func (m *Manager) getOrCreate(roomID uuid.UUID) (*Controller, error) {
	m.mu.RLock()
	c, ok := m.rooms[roomID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if ok {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	if c, ok := m.rooms[roomID]; ok {
		return c, nil
	}
	c = newController(roomID, m.cfg, m.log, m.store, m.cache, m.writer, m.detach)
	m.rooms[roomID] = c
	m.log.Info(context.Background(), "room %s: controller spawned", roomID)
	return c, nil
}

// detach unregisters a controller, but only if it is still the one mapped.
// A replacement spawned after a reap must not be knocked out by the old
// controller's exit.
func (m *Manager) detach(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[c.roomID]; ok && cur == c {
		delete(m.rooms, c.roomID)
	}
}

// Join admits a session to a room, spawning the controller when needed. A
// join can race a controller that is reaping; when it loses, the loop
// resolves a fresh controller and tries again until ctx gives up.
func (m *Manager) Join(ctx context.Context, roomID uuid.UUID, principal models.Principal, role models.Role, transport Transport) (JoinSnapshot, *Controller, error) {
	for {
		c, err := m.getOrCreate(roomID)
		if err != nil {
			return JoinSnapshot{}, nil, err
		}
		snap, err := c.Join(ctx, principal, role, transport)
		if errors.Is(err, ErrControllerClosed) {
			select {
			case <-ctx.Done():
				return JoinSnapshot{}, nil, ErrJoinTimeout
			default:
				continue
			}
		}
		if err != nil {
			return JoinSnapshot{}, nil, err
		}
		return snap, c, nil
	}
}

// RoomStats is one room's live counters.
type RoomStats struct {
	RoomID       uuid.UUID `json:"roomId"`
	Participants int64     `json:"participants"`
	QueuedEvents int64     `json:"queuedEvents"`
}

// Stats aggregates live counters across all rooms.
type Stats struct {
	Rooms        int         `json:"rooms"`
	Participants int64       `json:"participants"`
	QueuedEvents int64       `json:"queuedEvents"`
	PerRoom      []RoomStats `json:"perRoom"`
}

// Stats snapshots the registry for the diagnostics endpoint.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{PerRoom: make([]RoomStats, 0, len(m.rooms))}
	for id, c := range m.rooms {
		p, q := c.Counts()
		s.Rooms++
		s.Participants += p
		s.QueuedEvents += q
		s.PerRoom = append(s.PerRoom, RoomStats{RoomID: id, Participants: p, QueuedEvents: q})
	}
	return s
}

// Shutdown stops admitting joins, finalizes every live room in parallel and
// waits until they have all drained or ctx expires. Queued changes are synced
// before the controllers exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	controllers := make([]*Controller, 0, len(m.rooms))
	for _, c := range m.rooms {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()

	if len(controllers) == 0 {
		return nil
	}
	m.log.Info(ctx, "draining %d active rooms", len(controllers))
	var g errgroup.Group
	for _, c := range controllers {
		c := c
		g.Go(func() error {
			return c.Shutdown(ctx)
		})
	}
	return g.Wait()
}
