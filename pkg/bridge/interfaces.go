// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"errors"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrBridgeNotConnected is returned by operations whose precondition (an
// established bridge for the requested service) does not hold. No Matrix
// calls are made when this is returned.
var ErrBridgeNotConnected = errors.New("bridge not connected")

// ErrInsufficientCredits is returned by CreditChecker implementations when
// the user has no notification credit left.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrNoSession is returned when no Matrix session is registered for a user.
var ErrNoSession = errors.New("no matrix session")

// BridgeStatus is the lifecycle state of a bridge connection record.
type BridgeStatus string

const (
	BridgeStatusConnecting BridgeStatus = "connecting"
	BridgeStatusConnected  BridgeStatus = "connected"
)

// Bridge is a user's connection record for one bridged service. It is owned
// by the repository; this core only reads it and deletes it on detected
// disconnection.
type Bridge struct {
	UserID  int64
	Service Service
	Status  BridgeStatus
	// RoomID is the bridge's management room, where the bridge bot posts
	// status messages.
	RoomID id.RoomID
}

// NotifyVia selects the delivery channel for a notification.
type NotifyVia string

const (
	NotifyViaCall NotifyVia = "call"
	NotifyViaSMS  NotifyVia = "sms"
)

// OrSMS returns the channel, defaulting to SMS when unset.
func (v NotifyVia) OrSMS() NotifyVia {
	if v == NotifyViaCall {
		return NotifyViaCall
	}
	return NotifyViaSMS
}

// PrioritySender is a configured contact whose messages always notify.
type PrioritySender struct {
	Sender    string
	NotifyVia NotifyVia
}

// WaitingCheck is a one-shot content watch: when an inbound message matches
// its content, the check fires one notification and is removed.
type WaitingCheck struct {
	ID        int64
	Content   string
	NotifyVia NotifyVia
}

// Repository is the narrow persistence contract this core depends on. The
// relational schema behind it is not this core's concern.
type Repository interface {
	FindBridge(ctx context.Context, userID int64, svc Service) (*Bridge, error)
	DeleteBridge(ctx context.Context, userID int64, svc Service) error
	HasActiveBridges(ctx context.Context, userID int64) (bool, error)

	PrioritySenders(ctx context.Context, userID int64, svc Service) ([]PrioritySender, error)
	WaitingChecks(ctx context.Context, userID int64, svc Service) ([]WaitingCheck, error)
	DeleteWaitingCheck(ctx context.Context, userID int64, checkID int64) error

	UserTimezone(ctx context.Context, userID int64) (string, error)
	// CriticalEnabled returns the user's critical-monitoring setting; nil
	// means critical scoring is disabled entirely.
	CriticalEnabled(ctx context.Context, userID int64) (*string, error)
	ProactiveAgentOn(ctx context.Context, userID int64) (bool, error)
	HasValidSubscriptionTier(ctx context.Context, userID int64, tier string) (bool, error)
}

// RoomMember is a joined member of a Matrix room.
type RoomMember struct {
	UserID      id.UserID
	DisplayName string
}

// MatrixSession is the slice of Matrix client capability the core uses.
// RecentMessages returns events in backward order (most recent first).
type MatrixSession interface {
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	RoomDisplayName(ctx context.Context, roomID id.RoomID) (string, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]RoomMember, error)
	RecentMessages(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error)
	UnreadNotificationCount(roomID id.RoomID) int
	SendText(ctx context.Context, roomID id.RoomID, body string) (id.EventID, error)
	SendMedia(ctx context.Context, roomID id.RoomID, data []byte, mimeType, fileName, caption string) (id.EventID, error)
}

// SessionRegistry tracks per-user Matrix sessions. Remove tears down the
// session and its sync task; it is idempotent and safe under concurrent
// teardown attempts.
type SessionRegistry interface {
	Get(userID int64) (MatrixSession, bool)
	Remove(userID int64)
}

// Notifier delivers a user-facing notification outside the chat (SMS or
// voice call). Delivery failures are the notifier's concern; triage never
// retries.
type Notifier interface {
	SendNotification(ctx context.Context, userID int64, body, notificationType, firstMessage string) error
}

// CreditChecker verifies and consumes a notification credit. A nil return
// means the credit was available; ErrInsufficientCredits means it was not.
type CreditChecker interface {
	CheckUserCredits(ctx context.Context, userID int64, feature string) error
}

// ImportanceResult is the importance oracle's verdict for one message.
type ImportanceResult struct {
	Critical bool
	// Message is an oracle-provided notification body, empty when the
	// oracle had nothing better than the raw message.
	Message string
	// FirstMessage is the opening line for voice-call delivery.
	FirstMessage string
}

// WaitingCheckMatch is the oracle's answer to a waiting-check query.
// CheckID is nil when no configured check matched.
type WaitingCheckMatch struct {
	CheckID      *int64
	Message      string
	FirstMessage string
}

// Scorer is the external importance-scoring oracle.
type Scorer interface {
	CheckMessageImportance(ctx context.Context, text string) (ImportanceResult, error)
	CheckWaitingCheckMatch(ctx context.Context, text string, checks []WaitingCheck) (WaitingCheckMatch, error)
}

// Dispatcher runs a function detached from the caller. The production
// implementation spawns a goroutine; tests substitute a synchronous one so
// dispatch calls can be asserted without racing a scheduler.
type Dispatcher interface {
	Dispatch(fn func())
}

type goDispatcher struct{}

func (goDispatcher) Dispatch(fn func()) {
	go fn()
}

// DetachedDispatcher is the production Dispatcher.
var DetachedDispatcher Dispatcher = goDispatcher{}
