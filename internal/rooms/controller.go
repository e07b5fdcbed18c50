package rooms

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/contextkey"
	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

// roomState tracks where a controller is in its lifecycle. Transitions only
// happen on the controller goroutine.
type roomState int

const (
	stateLoading roomState = iota
	stateActive
	stateDraining
)

func (s roomState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateActive:
		return "active"
	case stateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Config carries the pipeline knobs a controller needs. The registry copies
// these out of the process config when spawning a room.
type Config struct {
	BroadcastDebounce    time.Duration
	SyncDebounce         time.Duration
	FinalizationDeadline time.Duration
	MailboxSize          int
}

// message is the sealed set of things that can land in a controller mailbox.
type message interface{ isMessage() }

type joinRequest struct {
	principal models.Principal
	role      models.Role
	transport Transport
	reply     chan joinReply
}

type joinReply struct {
	snapshot JoinSnapshot
	err      error
}

type leaveRequest struct {
	userID    uuid.UUID
	transport Transport
}

type ingestRequest struct {
	userID uuid.UUID
	event  models.ChangeEvent
}

type cursorRequest struct {
	userID uuid.UUID
	pos    models.XY
}

type broadcastFired struct{}

type syncFired struct{}

type finalizeRequest struct{}

func (joinRequest) isMessage()     {}
func (leaveRequest) isMessage()    {}
func (ingestRequest) isMessage()   {}
func (cursorRequest) isMessage()   {}
func (broadcastFired) isMessage()  {}
func (syncFired) isMessage()       {}
func (finalizeRequest) isMessage() {}

// JoinSnapshot is what a joining session gets back: the current document and
// everyone already in the room.
type JoinSnapshot struct {
	Flow   models.FlowData
	Others []models.Participant
}

type participant struct {
	principal    models.Principal
	role         models.Role
	transport    Transport
	lastActiveAt time.Time
	cursor       *models.XY
}

func (p *participant) wire() models.Participant {
	return models.Participant{
		UserID:       p.principal.UserID,
		Name:         p.principal.Name,
		Role:         p.role,
		LastActiveAt: p.lastActiveAt,
		Cursor:       p.cursor,
	}
}

// Controller owns one room. All room state lives on a single goroutine fed by
// the mailbox, so none of it needs locking; the exported methods only post
// messages. The done channel closes once the controller has detached from the
// registry and will never process another message.
type Controller struct {
	roomID uuid.UUID
	cfg    Config
	log    *utils.Logger
	store  DurableStore
	cache  WarmCache
	writer SnapshotWriter
	detach func(*Controller)

	mailbox chan message
	done    chan struct{}

	// Read by the registry for /stats; written only by the controller goroutine.
	participantCount atomic.Int64
	queuedCount      atomic.Int64

	// Everything below is owned by run().
	state          roomState
	participants   map[uuid.UUID]*participant
	doc            *document
	lastTS         int64
	maxProcessedTS int64
	broadcastQ     []models.ChangeEvent
	syncQ          []models.ChangeEvent
	retryBuf       []models.ChangeEvent
	retryAttempt   int
	broadcastArmed bool
	syncArmed      bool
	broadcastTimer *time.Timer
	syncTimer      *time.Timer
}

func newController(roomID uuid.UUID, cfg Config, log *utils.Logger, store DurableStore, cache WarmCache, writer SnapshotWriter, detach func(*Controller)) *Controller {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	c := &Controller{
		roomID:       roomID,
		cfg:          cfg,
		log:          log,
		store:        store,
		cache:        cache,
		writer:       writer,
		detach:       detach,
		mailbox:      make(chan message, cfg.MailboxSize),
		done:         make(chan struct{}),
		state:        stateLoading,
		participants: make(map[uuid.UUID]*participant),
	}
	activeRooms.Inc()
	go c.run()
	return c
}

// RoomID returns the room this controller serves.
func (c *Controller) RoomID() uuid.UUID {
	return c.roomID
}

// Counts reports the participant count and the number of queued change
// events. Safe to call from any goroutine.
func (c *Controller) Counts() (participants, queued int64) {
	return c.participantCount.Load(), c.queuedCount.Load()
}

// post delivers a message to the controller goroutine. It fails with
// ErrControllerClosed once the controller has been reaped.
func (c *Controller) post(msg message) error {
	select {
	case <-c.done:
		return ErrControllerClosed
	default:
	}
	select {
	case c.mailbox <- msg:
		return nil
	case <-c.done:
		return ErrControllerClosed
	}
}

// Join registers a session with the room and returns the document snapshot
// plus the other participants. The context bounds how long the caller is
// willing to wait; on expiry the join is rolled back if it already landed.
func (c *Controller) Join(ctx context.Context, principal models.Principal, role models.Role, transport Transport) (JoinSnapshot, error) {
	reply := make(chan joinReply, 1)
	req := joinRequest{principal: principal, role: role, transport: transport, reply: reply}
	select {
	case <-c.done:
		return JoinSnapshot{}, ErrControllerClosed
	default:
	}
	select {
	case c.mailbox <- req:
	case <-c.done:
		return JoinSnapshot{}, ErrControllerClosed
	case <-ctx.Done():
		return JoinSnapshot{}, ErrJoinTimeout
	}
	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-ctx.Done():
		// The actor may still admit us after the deadline; undo that.
		go func() {
			_ = c.post(leaveRequest{userID: principal.UserID, transport: transport})
		}()
		return JoinSnapshot{}, ErrJoinTimeout
	}
}

// Leave removes a participant. The transport identifies which session is
// leaving so a stale disconnect cannot kick a fresh session of the same user.
func (c *Controller) Leave(userID uuid.UUID, transport Transport) {
	_ = c.post(leaveRequest{userID: userID, transport: transport})
}

// Ingest hands a change event to the room pipeline. The event is stamped and
// queued on the controller goroutine.
func (c *Controller) Ingest(userID uuid.UUID, event models.ChangeEvent) error {
	return c.post(ingestRequest{userID: userID, event: event})
}

// Cursor fans a cursor position out to the other participants, bypassing the
// debounced pipelines.
func (c *Controller) Cursor(userID uuid.UUID, pos models.XY) error {
	return c.post(cursorRequest{userID: userID, pos: pos})
}

// Shutdown asks the controller to finalize and waits until it has exited.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.post(finalizeRequest{}); err != nil {
		// Already reaped.
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the controller's exit signal.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) run() {
	ctx := context.WithValue(context.Background(), contextkey.ContextKeyRoomID, c.roomID)
	// An invariant violation crashes this room, not the process. The next
	// join spawns a fresh controller that reloads from the warm cache or the
	// durable store.
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			buf = buf[:runtime.Stack(buf, false)]
			roomCrashes.Inc()
			c.log.Error(ctx, "room %s: controller crashed: %v\n%s", c.roomID, r, buf)
			c.stopTimers()
			for _, p := range c.participants {
				p.transport.Close()
			}
			c.participants = make(map[uuid.UUID]*participant)
			select {
			case <-c.done:
			default:
				c.reap()
			}
		}
	}()
	for {
		msg := <-c.mailbox
		if c.handle(ctx, msg) {
			return
		}
		if c.state == stateActive && len(c.participants) == 0 {
			if c.drainAndExit(ctx) {
				return
			}
		}
		c.publishCounts()
	}
}

func (c *Controller) handle(ctx context.Context, msg message) (exit bool) {
	switch m := msg.(type) {
	case joinRequest:
		return c.handleJoin(ctx, m)
	case leaveRequest:
		c.handleLeave(ctx, m)
	case ingestRequest:
		c.handleIngest(ctx, m)
	case cursorRequest:
		c.handleCursor(ctx, m)
	case broadcastFired:
		c.broadcastArmed = false
		c.runBroadcast(ctx)
	case syncFired:
		c.syncArmed = false
		c.runSync(ctx)
	case finalizeRequest:
		c.state = stateDraining
		c.finalize(ctx)
		for _, p := range c.participants {
			p.transport.Close()
		}
		c.participants = make(map[uuid.UUID]*participant)
		c.reap()
		return true
	}
	return false
}

func (c *Controller) publishCounts() {
	c.participantCount.Store(int64(len(c.participants)))
	c.queuedCount.Store(int64(len(c.broadcastQ) + len(c.syncQ) + len(c.retryBuf)))
}

// nextTimestamp stamps events at dequeue time. Wall clock milliseconds, bumped
// by one whenever the clock has not advanced past the previous stamp, so
// timestamps are strictly increasing within the room.
func (c *Controller) nextTimestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// loadRoom fetches the room through the warm cache, falling back to the
// durable store and re-warming the cache on a miss. Cache failures degrade to
// the store instead of failing the load.
func (c *Controller) loadRoom(ctx context.Context) (*models.RoomData, error) {
	room, err := c.cache.GetRoomData(ctx, c.roomID)
	if err != nil {
		c.log.Warn(ctx, "room %s: warm cache read failed: %v", c.roomID, err)
	}
	if room != nil {
		return room, nil
	}
	room, err = c.store.GetRoom(ctx, c.roomID)
	if err != nil {
		return nil, err
	}
	room.FlowData.Normalize()
	if err := c.cache.SetRoomData(ctx, room); err != nil {
		c.log.Warn(ctx, "room %s: failed to warm cache after store load: %v", c.roomID, err)
	}
	return room, nil
}

func (c *Controller) handleJoin(ctx context.Context, req joinRequest) (exit bool) {
	if c.doc == nil {
		room, err := c.loadRoom(ctx)
		if err != nil {
			req.reply <- joinReply{err: err}
			if errors.Is(err, ErrRoomNotFound) {
				c.log.Info(ctx, "room %s: does not exist, reaping", c.roomID)
			} else {
				c.log.Error(ctx, "room %s: load failed before first join, reaping: %v", c.roomID, err)
			}
			c.stopTimers()
			c.reap()
			return true
		}
		c.doc = newDocument(room.FlowData)
	}
	c.state = stateActive

	uid := req.principal.UserID
	now := time.Now()
	if existing, ok := c.participants[uid]; ok {
		// Same user reconnecting: swap the transport, keep the seat. The
		// other participants never see a leave/join pair.
		existing.transport.Close()
		existing.transport = req.transport
		existing.role = req.role
		existing.lastActiveAt = now
		c.log.Info(ctx, "room %s: user %s reconnected", c.roomID, uid)
	} else {
		joined := &participant{
			principal:    req.principal,
			role:         req.role,
			transport:    req.transport,
			lastActiveAt: now,
		}
		c.participants[uid] = joined
		c.broadcastMessage(ctx, uid, models.NewParticipantJoined(joined.wire()))
		c.log.Info(ctx, "room %s: user %s joined as %s (%d participants)", c.roomID, uid, req.role, len(c.participants))
	}

	p := c.participants[uid]
	others := make([]models.Participant, 0, len(c.participants)-1)
	for id, other := range c.participants {
		if id == uid {
			continue
		}
		others = append(others, other.wire())
	}
	// The live document already includes every event accepted since the last
	// sync, so a joiner never sees a snapshot older than what its peers got
	// through broadcasts.
	snap := JoinSnapshot{Flow: c.doc.flowData(), Others: others}

	// ROOM_JOINED goes out on the controller goroutine so no later fan-out
	// can overtake it on the session's send queue.
	if err := p.transport.Send(models.NewRoomJoined(c.roomID, snap.Flow, snap.Others, p.role)); err != nil {
		c.dropParticipant(ctx, p, err)
		req.reply <- joinReply{err: err}
		return false
	}
	req.reply <- joinReply{snapshot: snap}
	return false
}

func (c *Controller) handleLeave(ctx context.Context, req leaveRequest) {
	p, ok := c.participants[req.userID]
	if !ok {
		return
	}
	if req.transport != nil && p.transport != req.transport {
		// The leave belongs to a session that has already been replaced.
		return
	}
	delete(c.participants, req.userID)
	p.transport.Close()
	c.log.Info(ctx, "room %s: user %s left (%d participants)", c.roomID, req.userID, len(c.participants))
	c.broadcastMessage(ctx, uuid.Nil, models.NewParticipantLeft(req.userID))
}

func (c *Controller) handleIngest(ctx context.Context, req ingestRequest) {
	p, ok := c.participants[req.userID]
	if !ok {
		c.log.Debug(ctx, "room %s: dropping event from non-participant %s", c.roomID, req.userID)
		return
	}
	if !p.role.CanEdit() {
		c.log.Debug(ctx, "room %s: dropping event from viewer %s", c.roomID, req.userID)
		return
	}
	p.lastActiveAt = time.Now()

	ev := req.event
	ev.RoomID = c.roomID
	ev.UserID = req.userID
	ev.Timestamp = c.nextTimestamp()

	if ev.Type == models.ChangeCursorMove {
		if ev.Cursor != nil {
			c.fanOutCursor(ctx, p, *ev.Cursor)
		}
		return
	}

	// Screen the event against the live document before it may enter any
	// queue. A rejected event is answered with a conflict right away and
	// never reaches the peers or the pending log.
	next, reason, ok := acceptEvent(c.doc, ev)
	if !ok {
		c.notifyConflict(ctx, rejection{event: ev, reason: reason})
		return
	}
	c.doc = next

	if err := c.cache.AppendPending(ctx, ev); err != nil {
		// The event still flows through the in-memory pipelines; only the
		// crash-recovery log misses it.
		c.log.Warn(ctx, "room %s: failed to append pending event: %v", c.roomID, err)
	}
	c.broadcastQ = append(c.broadcastQ, ev)
	c.syncQ = append(c.syncQ, ev)
	eventsIngested.Inc()
	c.armBroadcast()
	c.armSync(c.cfg.SyncDebounce)
}

func (c *Controller) handleCursor(ctx context.Context, req cursorRequest) {
	p, ok := c.participants[req.userID]
	if !ok {
		return
	}
	c.fanOutCursor(ctx, p, req.pos)
}

func (c *Controller) fanOutCursor(ctx context.Context, p *participant, pos models.XY) {
	p.cursor = &pos
	p.lastActiveAt = time.Now()
	uid := p.principal.UserID
	if err := c.cache.SetCursor(ctx, c.roomID, uid, pos); err != nil {
		c.log.Debug(ctx, "room %s: cursor cache write failed: %v", c.roomID, err)
	}
	cursorMoves.Inc()
	c.broadcastMessage(ctx, uid, models.NewCursorMove(uid, pos))
}

func (c *Controller) armBroadcast() {
	if c.broadcastArmed {
		return
	}
	c.broadcastArmed = true
	c.broadcastTimer = time.AfterFunc(c.cfg.BroadcastDebounce, func() {
		_ = c.post(broadcastFired{})
	})
}

func (c *Controller) armSync(after time.Duration) {
	if c.syncArmed {
		return
	}
	c.syncArmed = true
	c.syncTimer = time.AfterFunc(after, func() {
		_ = c.post(syncFired{})
	})
}

func (c *Controller) stopTimers() {
	if c.broadcastTimer != nil {
		c.broadcastTimer.Stop()
		c.broadcastTimer = nil
	}
	if c.syncTimer != nil {
		c.syncTimer.Stop()
		c.syncTimer = nil
	}
	c.broadcastArmed = false
	c.syncArmed = false
}

func sortBatch(batch []models.ChangeEvent) {
	if sort.SliceIsSorted(batch, func(i, j int) bool { return batch[i].Timestamp < batch[j].Timestamp }) {
		return
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Timestamp < batch[j].Timestamp })
}

// runBroadcast drains the broadcast queue, consolidates it and fans the
// surviving events out to every participant, the author included. Everything
// in the queue passed ingest screening, so nothing here needs validating.
func (c *Controller) runBroadcast(ctx context.Context) {
	if len(c.broadcastQ) == 0 {
		return
	}
	batch := c.broadcastQ
	c.broadcastQ = nil
	sortBatch(batch)
	events := consolidate(batch, true).events()
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		c.broadcastMessage(ctx, uuid.Nil, models.NewFlowChange(ev))
	}
	broadcastBatches.Inc()
	c.log.Debug(ctx, "room %s: broadcast %d events from batch of %d", c.roomID, len(events), len(batch))
}

// runSync drains the sync queue together with any retry leftovers and
// persists the batch. On failure the survivors stay buffered and the timer is
// re-armed with exponential backoff.
func (c *Controller) runSync(ctx context.Context) {
	batch := c.takeSyncBatch()
	if len(batch) == 0 {
		c.retryAttempt = 0
		return
	}
	if err := c.syncBatch(ctx, batch); err != nil {
		c.retryAttempt++
		delay := c.writer.Backoff(c.retryAttempt)
		syncsTotal.WithLabelValues("failed").Inc()
		c.log.Warn(ctx, "room %s: sync failed (attempt %d), retrying in %s: %v", c.roomID, c.retryAttempt, delay, err)
		c.armSync(delay)
	}
}

// takeSyncBatch moves the retry buffer and sync queue into one sorted batch.
// Retry survivors carry older timestamps than anything freshly queued, so the
// concatenation is normally already sorted.
func (c *Controller) takeSyncBatch() []models.ChangeEvent {
	if len(c.retryBuf) == 0 && len(c.syncQ) == 0 {
		return nil
	}
	batch := make([]models.ChangeEvent, 0, len(c.retryBuf)+len(c.syncQ))
	batch = append(batch, c.retryBuf...)
	batch = append(batch, c.syncQ...)
	c.retryBuf = nil
	c.syncQ = nil
	sortBatch(batch)
	return batch
}

// syncBatch runs one full sync pass: load the snapshot, validate, notify
// conflicts, consolidate, apply and persist. Ingest already screened
// everything in the sync queue, so over a clean snapshot the validation
// accepts the whole batch again; it rejects for real when the batch carries
// pending-log leftovers from a crashed predecessor. On a load failure the raw
// batch goes back on the sync queue; on a write failure the validated
// survivors go to the retry buffer so re-validation cannot reject them a
// second time.
func (c *Controller) syncBatch(ctx context.Context, batch []models.ChangeEvent) error {
	room, err := c.loadRoom(ctx)
	if err != nil {
		c.syncQ = batch
		return err
	}

	valid, rejected := validateBatch(room.FlowData, batch)
	for _, rej := range rejected {
		c.notifyConflict(ctx, rej)
	}
	maxTS := batch[len(batch)-1].Timestamp
	if maxTS <= c.maxProcessedTS {
		panic(fmt.Sprintf("room %s: timestamp regression, batch high-water %d at watermark %d", c.roomID, maxTS, c.maxProcessedTS))
	}

	work := newDocument(room.FlowData)
	skipped := applyEvents(work, consolidate(valid, false).events())
	if skipped > 0 {
		c.log.Debug(ctx, "room %s: %d granular changes skipped during apply", c.roomID, skipped)
	}
	next := work.flowData()

	if next.Digest() == room.FlowData.Digest() {
		// Nothing changed the document; just advance the pending watermark.
		if err := c.cache.ClearPendingUpTo(ctx, c.roomID, maxTS); err != nil {
			c.log.Warn(ctx, "room %s: failed to clear pending log: %v", c.roomID, err)
		}
		c.doc = work
		c.maxProcessedTS = maxTS
		c.retryAttempt = 0
		syncsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	room.FlowData = next
	room.LastSyncedAt = time.Now()
	if err := c.writer.WriteSnapshot(ctx, room, maxTS); err != nil {
		c.retryBuf = valid
		return err
	}
	// Converge the live document to the persisted materialization. The two
	// can differ within a window when the bulk-versus-granular tie-break
	// dropped a bulk replacement that ingest had applied sequentially.
	c.doc = work
	c.maxProcessedTS = maxTS
	c.retryAttempt = 0
	syncsTotal.WithLabelValues("applied").Inc()
	c.log.Info(ctx, "room %s: synced %d events up to ts %d", c.roomID, len(batch), maxTS)
	return nil
}

func (c *Controller) notifyConflict(ctx context.Context, rej rejection) {
	conflictsTotal.WithLabelValues(string(rej.reason)).Inc()
	c.log.Info(ctx, "room %s: rejected %s from %s: %s", c.roomID, rej.event.Type, rej.event.UserID, rej.reason)
	p, ok := c.participants[rej.event.UserID]
	if !ok {
		// Author already gone; the rejection is only logged.
		return
	}
	c.sendTo(ctx, p, models.NewConflict(models.Conflict{
		Type:       rej.event.Type,
		Timestamp:  rej.event.Timestamp,
		Reason:     rej.reason,
		Suggestion: models.SuggestionFor(rej.event.Type, rej.reason),
	}))
}

// broadcastMessage sends v to every participant except the excluded user.
// Pass uuid.Nil to reach everyone. Sends that fail drop the participant.
func (c *Controller) broadcastMessage(ctx context.Context, except uuid.UUID, v any) {
	targets := make([]*participant, 0, len(c.participants))
	for uid, p := range c.participants {
		if uid == except {
			continue
		}
		targets = append(targets, p)
	}
	for _, p := range targets {
		if _, ok := c.participants[p.principal.UserID]; !ok {
			// Dropped by an earlier send in this same fan-out.
			continue
		}
		c.sendTo(ctx, p, v)
	}
}

func (c *Controller) sendTo(ctx context.Context, p *participant, v any) {
	if err := p.transport.Send(v); err != nil {
		c.dropParticipant(ctx, p, err)
	}
}

func (c *Controller) dropParticipant(ctx context.Context, p *participant, cause error) {
	uid := p.principal.UserID
	if _, ok := c.participants[uid]; !ok {
		return
	}
	delete(c.participants, uid)
	p.transport.Close()
	c.log.Info(ctx, "room %s: dropping user %s, send failed: %v", c.roomID, uid, cause)
	c.broadcastMessage(ctx, uuid.Nil, models.NewParticipantLeft(uid))
}

// finalize flushes everything the room still owes: the broadcast queue, the
// sync queue with bounded retries and finally any pending-log leftovers. Runs
// inline on the controller goroutine; joins arriving meanwhile queue up in
// the mailbox and are answered afterwards.
func (c *Controller) finalize(ctx context.Context) {
	c.stopTimers()
	deadline := time.Now().Add(c.cfg.FinalizationDeadline)

	c.runBroadcast(ctx)

	ok := c.drainSync(ctx, deadline)
	if ok {
		ok = c.drainPending(ctx, deadline)
	}
	if !ok {
		degradedRooms.Inc()
		c.log.Error(ctx, "room %s: finalization incomplete, %d events left unsynced", c.roomID, len(c.retryBuf)+len(c.syncQ))
		return
	}
	c.log.Info(ctx, "room %s: finalized at ts %d", c.roomID, c.maxProcessedTS)
}

// drainSync flushes the sync queue synchronously, honoring the backoff
// schedule until the deadline would be crossed.
func (c *Controller) drainSync(ctx context.Context, deadline time.Time) bool {
	for {
		batch := c.takeSyncBatch()
		if len(batch) == 0 {
			return true
		}
		err := c.syncBatch(ctx, batch)
		if err == nil {
			continue
		}
		c.retryAttempt++
		delay := c.writer.Backoff(c.retryAttempt)
		if time.Now().Add(delay).After(deadline) {
			c.log.Error(ctx, "room %s: finalization deadline reached: %v", c.roomID, err)
			return false
		}
		c.log.Warn(ctx, "room %s: sync failed during drain (attempt %d), retrying in %s: %v", c.roomID, c.retryAttempt, delay, err)
		time.Sleep(delay)
	}
}

// drainPending replays warm-cache pending entries that never made it through
// a sync, such as leftovers from a crashed predecessor. Entries at or below
// the processed watermark were already applied and are dropped.
func (c *Controller) drainPending(ctx context.Context, deadline time.Time) bool {
	n, err := c.cache.PendingCount(ctx, c.roomID)
	if err != nil {
		c.log.Error(ctx, "room %s: pending count failed during finalize: %v", c.roomID, err)
		return false
	}
	if n == 0 {
		return true
	}
	leftovers, err := c.cache.GetAndClearPending(ctx, c.roomID)
	if err != nil {
		c.log.Error(ctx, "room %s: pending drain failed during finalize: %v", c.roomID, err)
		return false
	}
	replay := leftovers[:0]
	stale := 0
	for _, ev := range leftovers {
		if ev.Timestamp <= c.maxProcessedTS {
			stale++
			continue
		}
		replay = append(replay, ev)
	}
	if stale > 0 {
		c.log.Info(ctx, "room %s: dropped %d already-processed pending events", c.roomID, stale)
	}
	if len(replay) == 0 {
		return true
	}
	c.log.Info(ctx, "room %s: replaying %d pending events", c.roomID, len(replay))
	c.syncQ = replay
	if !c.drainSync(ctx, deadline) {
		// The pending log was cleared above; put the survivors back so the
		// next controller for this room can pick them up.
		for _, ev := range append(c.retryBuf, c.syncQ...) {
			if err := c.cache.AppendPending(ctx, ev); err != nil {
				c.log.Error(ctx, "room %s: failed to re-append pending event ts %d: %v", c.roomID, ev.Timestamp, err)
			}
		}
		return false
	}
	return true
}

// drainAndExit runs when the last participant leaves. It finalizes, then
// either hands the room to a join that arrived during the drain or commits to
// reaping. Returns true when the controller should exit.
func (c *Controller) drainAndExit(ctx context.Context) bool {
	c.state = stateDraining
	c.log.Info(ctx, "room %s: empty, draining", c.roomID)
	c.finalize(ctx)
	for {
		select {
		case msg := <-c.mailbox:
			switch m := msg.(type) {
			case joinRequest:
				if c.handleJoin(ctx, m) {
					return true
				}
				if len(c.participants) > 0 {
					c.log.Info(ctx, "room %s: reactivated during drain", c.roomID)
					c.publishCounts()
					return false
				}
			case finalizeRequest:
				c.reap()
				return true
			default:
				// Stale fires, leaves and events for a room with nobody in
				// it; nothing to do.
			}
		default:
			c.reap()
			return true
		}
	}
}

// reap detaches from the registry, closes done and answers whatever is still
// in the mailbox with ErrControllerClosed. Posts that lose the race between
// the registry lookup and detach get the same answer and retry upstream.
func (c *Controller) reap() {
	c.detach(c)
	close(c.done)
	for {
		select {
		case msg := <-c.mailbox:
			if m, ok := msg.(joinRequest); ok {
				m.reply <- joinReply{err: ErrControllerClosed}
			}
		default:
			activeRooms.Dec()
			c.participantCount.Store(0)
			c.queuedCount.Store(0)
			c.log.Info(context.Background(), "room %s: reaped", c.roomID)
			return
		}
	}
}
