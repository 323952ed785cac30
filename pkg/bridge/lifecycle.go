// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// disconnectionKeywords are scanned case-insensitively in bridge-bot status
// messages. This is a heuristic over free-form bot prose, not a protocol
// handshake: a bot mentioning "error" in an unrelated status line can cause
// a false-positive teardown. That limitation is accepted; the bridges emit
// no structured status codes to key on instead.
var disconnectionKeywords = []string{
	"disconnected",
	"connection lost",
	"logged out",
	"authentication failed",
	"login failed",
	"error",
	"failed",
	"timeout",
	"invalid",
}

// Lifecycle watches bridge management rooms for disconnection notices from
// the bridge bots and tears down dead per-user session state.
type Lifecycle struct {
	repo     Repository
	sessions SessionRegistry
	cfg      *Config
	log      zerolog.Logger
}

// NewLifecycle creates a bridge lifecycle monitor.
func NewLifecycle(repo Repository, sessions SessionRegistry, cfg *Config, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		repo:     repo,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("component", "lifecycle").Logger(),
	}
}

// ManagementBridge returns the user's bridge whose management room is the
// given room, or nil. Lookup errors for one service never hide another
// service's match.
func (l *Lifecycle) ManagementBridge(ctx context.Context, userID int64, roomID id.RoomID) *Bridge {
	for _, svc := range AllServices {
		br, err := l.repo.FindBridge(ctx, userID, svc)
		if err != nil {
			l.log.Debug().Err(err).Str("service", svc.String()).Msg("Bridge lookup failed")
			continue
		}
		if br != nil && br.RoomID != "" && br.RoomID == roomID {
			return br
		}
	}
	return nil
}

// HandleManagementMessage inspects one message from a bridge's management
// room. While the bridge is still connecting, everything is ignored to avoid
// false positives during the initial handshake. Otherwise only the known
// bridge-bot account is trusted; on a disconnection keyword the bridge
// record is deleted, and when no active bridges remain the user's Matrix
// session is torn down. Teardown is idempotent.
func (l *Lifecycle) HandleManagementMessage(ctx context.Context, userID int64, br *Bridge, evt *event.Event) {
	log := l.log.With().
		Int64("user_id", userID).
		Str("service", br.Service.String()).
		Str("room_id", evt.RoomID.String()).
		Logger()

	if br.Status == BridgeStatusConnecting {
		return
	}
	bot := l.cfg.BridgeBot(br.Service)
	if bot == "" || evt.Sender.String() != bot {
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return
	}

	body := strings.ToLower(content.Body)
	keyword := ""
	for _, kw := range disconnectionKeywords {
		if strings.Contains(body, kw) {
			keyword = kw
			break
		}
	}
	if keyword == "" {
		return
	}

	log.Info().Str("keyword", keyword).Msg("Bridge disconnection detected")
	if err := l.repo.DeleteBridge(ctx, userID, br.Service); err != nil {
		log.Error().Err(err).Msg("Failed to delete bridge record")
		return
	}

	active, err := l.repo.HasActiveBridges(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check remaining bridges")
		return
	}
	if !active {
		log.Info().Msg("No active bridges remain, tearing down matrix session")
		l.sessions.Remove(userID)
	}
}
