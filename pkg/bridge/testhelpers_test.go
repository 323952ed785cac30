// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// fakeRoom is one room served by fakeSession.
type fakeRoom struct {
	name    string
	members []RoomMember
	unread  int
	// events are most recent first, matching the transport contract.
	events []*event.Event

	nameErr    error
	membersErr error
	msgErr     error
}

// fakeSession is an in-memory MatrixSession.
type fakeSession struct {
	mu    sync.Mutex
	rooms map[id.RoomID]*fakeRoom
	order []id.RoomID

	joinedErr   error
	joinedCalls int

	sentTexts []sentText
	sentMedia []sentMedia
	sendErr   error
}

type sentText struct {
	roomID id.RoomID
	body   string
}

type sentMedia struct {
	roomID   id.RoomID
	mimeType string
	fileName string
	caption  string
	size     int
}

func newFakeSession() *fakeSession {
	return &fakeSession{rooms: make(map[id.RoomID]*fakeRoom)}
}

func (s *fakeSession) addRoom(roomID id.RoomID, room *fakeRoom) {
	s.rooms[roomID] = room
	s.order = append(s.order, roomID)
}

func (s *fakeSession) JoinedRooms(_ context.Context) ([]id.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinedCalls++
	if s.joinedErr != nil {
		return nil, s.joinedErr
	}
	out := make([]id.RoomID, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *fakeSession) RoomDisplayName(_ context.Context, roomID id.RoomID) (string, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return "", errNoSuchRoom
	}
	if room.nameErr != nil {
		return "", room.nameErr
	}
	return room.name, nil
}

func (s *fakeSession) JoinedMembers(_ context.Context, roomID id.RoomID) ([]RoomMember, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, errNoSuchRoom
	}
	if room.membersErr != nil {
		return nil, room.membersErr
	}
	return room.members, nil
}

func (s *fakeSession) RecentMessages(_ context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, errNoSuchRoom
	}
	if room.msgErr != nil {
		return nil, room.msgErr
	}
	if limit > 0 && len(room.events) > limit {
		return room.events[:limit], nil
	}
	return room.events, nil
}

func (s *fakeSession) UnreadNotificationCount(roomID id.RoomID) int {
	if room, ok := s.rooms[roomID]; ok {
		return room.unread
	}
	return 0
}

func (s *fakeSession) SendText(_ context.Context, roomID id.RoomID, body string) (id.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sentTexts = append(s.sentTexts, sentText{roomID: roomID, body: body})
	return "$sent-text", nil
}

func (s *fakeSession) SendMedia(_ context.Context, roomID id.RoomID, data []byte, mimeType, fileName, caption string) (id.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sentMedia = append(s.sentMedia, sentMedia{
		roomID:   roomID,
		mimeType: mimeType,
		fileName: fileName,
		caption:  caption,
		size:     len(data),
	})
	return "$sent-media", nil
}

var errNoSuchRoom = errors.New("no such room")

// fakeRegistry is an in-memory SessionRegistry that records removals.
type fakeRegistry struct {
	mu       sync.Mutex
	sessions map[int64]MatrixSession
	removed  []int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{sessions: make(map[int64]MatrixSession)}
}

func (r *fakeRegistry) Get(userID int64) (MatrixSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

func (r *fakeRegistry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	r.removed = append(r.removed, userID)
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu             sync.Mutex
	bridges        map[Service]*Bridge
	bridgeErr      error
	deletedBridges []Service

	priority    []PrioritySender
	priorityErr error

	waiting       []WaitingCheck
	waitingErr    error
	deletedChecks []int64

	timezone  string
	critical  *string
	proactive bool
	tiers     map[string]bool
	tierErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bridges:  make(map[Service]*Bridge),
		tiers:    make(map[string]bool),
		timezone: "UTC",
	}
}

func (r *fakeRepo) FindBridge(_ context.Context, _ int64, svc Service) (*Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bridgeErr != nil {
		return nil, r.bridgeErr
	}
	return r.bridges[svc], nil
}

func (r *fakeRepo) DeleteBridge(_ context.Context, _ int64, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, svc)
	r.deletedBridges = append(r.deletedBridges, svc)
	return nil
}

func (r *fakeRepo) HasActiveBridges(_ context.Context, _ int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, br := range r.bridges {
		if br.Status == BridgeStatusConnected {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) PrioritySenders(_ context.Context, _ int64, _ Service) ([]PrioritySender, error) {
	if r.priorityErr != nil {
		return nil, r.priorityErr
	}
	return r.priority, nil
}

func (r *fakeRepo) WaitingChecks(_ context.Context, _ int64, _ Service) ([]WaitingCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitingErr != nil {
		return nil, r.waitingErr
	}
	out := make([]WaitingCheck, len(r.waiting))
	copy(out, r.waiting)
	return out, nil
}

func (r *fakeRepo) DeleteWaitingCheck(_ context.Context, _ int64, checkID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedChecks = append(r.deletedChecks, checkID)
	kept := r.waiting[:0]
	for _, check := range r.waiting {
		if check.ID != checkID {
			kept = append(kept, check)
		}
	}
	r.waiting = kept
	return nil
}

func (r *fakeRepo) UserTimezone(_ context.Context, _ int64) (string, error) {
	return r.timezone, nil
}

func (r *fakeRepo) CriticalEnabled(_ context.Context, _ int64) (*string, error) {
	return r.critical, nil
}

func (r *fakeRepo) ProactiveAgentOn(_ context.Context, _ int64) (bool, error) {
	return r.proactive, nil
}

func (r *fakeRepo) HasValidSubscriptionTier(_ context.Context, _ int64, tier string) (bool, error) {
	if r.tierErr != nil {
		return false, r.tierErr
	}
	return r.tiers[tier], nil
}

// fakeNotifier records dispatched notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

type sentNotification struct {
	userID       int64
	body         string
	notiType     string
	firstMessage string
}

func (n *fakeNotifier) SendNotification(_ context.Context, userID int64, body, notificationType, firstMessage string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{
		userID:       userID,
		body:         body,
		notiType:     notificationType,
		firstMessage: firstMessage,
	})
	return n.err
}

func (n *fakeNotifier) notifications() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentNotification, len(n.sent))
	copy(out, n.sent)
	return out
}

// fakeCredits counts credit checks and can deny them.
type fakeCredits struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCredits) CheckUserCredits(_ context.Context, _ int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeCredits) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeScorer returns canned oracle verdicts.
type fakeScorer struct {
	mu sync.Mutex

	importance      ImportanceResult
	importanceErr   error
	importanceCalls int

	match      WaitingCheckMatch
	matchErr   error
	matchCalls int
	lastText   string
}

func (s *fakeScorer) CheckMessageImportance(_ context.Context, text string) (ImportanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.importanceCalls++
	s.lastText = text
	return s.importance, s.importanceErr
}

func (s *fakeScorer) CheckWaitingCheckMatch(_ context.Context, text string, _ []WaitingCheck) (WaitingCheckMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchCalls++
	s.lastText = text
	return s.match, s.matchErr
}

// syncDispatcher runs dispatched functions inline so tests can assert on
// delivery without racing a goroutine.
type syncDispatcher struct{}

func (syncDispatcher) Dispatch(fn func()) { fn() }

// msgEvent builds a parsed inbound message event.
func msgEvent(roomID id.RoomID, sender id.UserID, msgType event.MessageType, body string, ts time.Time) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		RoomID:    roomID,
		Sender:    sender,
		Timestamp: ts.UnixMilli(),
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: msgType, Body: body},
		},
	}
}

const (
	testUserID   = int64(7)
	testMgmtRoom = id.RoomID("!mgmt-wa:example.org")
	testChatRoom = id.RoomID("!alice:example.org")
	testGhost    = id.UserID("@whatsapp_15551234:example.org")
	testBot      = "@whatsappbot:example.org"
)

// triageEnv is a fully wired triage pipeline over fakes: one user with a
// connected WhatsApp bridge, a qualifying subscription and one DM with Alice.
type triageEnv struct {
	repo     *fakeRepo
	registry *fakeRegistry
	sess     *fakeSession
	notifier *fakeNotifier
	credits  *fakeCredits
	scorer   *fakeScorer
	cfg      *Config
	triage   *Triage
	now      time.Time
}

func newTriageEnv() *triageEnv {
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

	repo := newFakeRepo()
	repo.bridges[ServiceWhatsApp] = &Bridge{
		UserID:  testUserID,
		Service: ServiceWhatsApp,
		Status:  BridgeStatusConnected,
		RoomID:  testMgmtRoom,
	}
	repo.tiers["tier 2"] = true
	repo.proactive = true

	sess := newFakeSession()
	sess.addRoom(testChatRoom, &fakeRoom{
		name: "Alice (WA)",
		members: []RoomMember{
			{UserID: "@rasmus:example.org", DisplayName: "Rasmus"},
			{UserID: testGhost, DisplayName: "Alice"},
		},
	})
	sess.addRoom(testMgmtRoom, &fakeRoom{name: "WhatsApp bridge bot"})

	registry := newFakeRegistry()
	registry.sessions[testUserID] = sess

	notifier := &fakeNotifier{}
	credits := &fakeCredits{}
	scorer := &fakeScorer{}
	cfg := &Config{
		Environment:       "production",
		WhatsAppBridgeBot: testBot,
	}

	lifecycle := NewLifecycle(repo, registry, cfg, zerolog.Nop())
	triage := NewTriage(repo, registry, notifier, credits, scorer, syncDispatcher{}, lifecycle, cfg, zerolog.Nop())
	triage.clock = func() time.Time { return now }

	return &triageEnv{
		repo:     repo,
		registry: registry,
		sess:     sess,
		notifier: notifier,
		credits:  credits,
		scorer:   scorer,
		cfg:      cfg,
		triage:   triage,
		now:      now,
	}
}

// chatMessage builds a message from Alice's ghost in the DM, aged by the
// given offset from the fixed test clock.
func (e *triageEnv) chatMessage(body string, age time.Duration) *event.Event {
	return msgEvent(testChatRoom, testGhost, event.MsgText, body, e.now.Add(-age))
}
