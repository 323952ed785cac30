// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// historyPageSize is how many events a single per-room history pull requests.
const historyPageSize = 20

// Fetcher retrieves and normalizes message history from bridged rooms.
type Fetcher struct {
	catalog *Catalog
	repo    Repository
	log     zerolog.Logger
	fanout  int
}

// NewFetcher creates a message fetcher on top of the catalog.
func NewFetcher(catalog *Catalog, repo Repository, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		catalog: catalog,
		repo:    repo,
		log:     log.With().Str("component", "fetcher").Logger(),
		fanout:  defaultFanout,
	}
}

// FetchLatestPerRoom powers the "recent activity across rooms" view: for
// each of the service's active rooms it scans the latest page of history,
// most recent first, and keeps the first decodable message at or after the
// since cutoff (unix seconds). At most one message per room; the aggregate
// is sorted by timestamp descending. Per-room failures contribute nothing.
func (f *Fetcher) FetchLatestPerRoom(ctx context.Context, userID int64, svc Service, since int64) ([]BridgeMessage, error) {
	sess, err := f.catalog.session(ctx, userID, svc)
	if err != nil {
		return nil, err
	}
	rooms, err := f.catalog.collectRooms(ctx, sess, svc, f.catalog.userLocation(ctx, userID), listOptions{cap: maxListedRooms})
	if err != nil {
		return nil, err
	}
	loc := f.catalog.userLocation(ctx, userID)

	results := make([]*BridgeMessage, len(rooms))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.fanout)
	for i, room := range rooms {
		eg.Go(func() error {
			results[i] = f.latestInRoom(egCtx, sess, svc, room, since, loc)
			return nil
		})
	}
	_ = eg.Wait()

	messages := make([]BridgeMessage, 0, len(results))
	for _, m := range results {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp > messages[j].Timestamp
	})
	return messages, nil
}

// latestInRoom returns the newest acceptable message of one room, or nil.
func (f *Fetcher) latestInRoom(ctx context.Context, sess MatrixSession, svc Service, room BridgeRoom, since int64, loc *time.Location) *BridgeMessage {
	events, err := sess.RecentMessages(ctx, room.ID, historyPageSize)
	if err != nil {
		f.log.Debug().Err(err).Str("room_id", room.ID.String()).Msg("Failed to fetch room history")
		return nil
	}
	members := f.memberNames(ctx, sess, room.ID)
	// Events arrive most-recent-first; the first survivor wins.
	for _, evt := range events {
		msg, ok := decodeMessage(evt, svc, room.Name, members, loc)
		if !ok {
			continue
		}
		if msg.Timestamp < since {
			continue
		}
		return msg
	}
	return nil
}

// FetchRoomMessages resolves a chat name and returns up to limit of its most
// recent messages, newest first, along with the resolved room display name.
// Events that do not decode (unsupported type, wrong sender, relay errors)
// are dropped, not errored.
func (f *Fetcher) FetchRoomMessages(ctx context.Context, userID int64, svc Service, chatName string, limit int) ([]BridgeMessage, string, error) {
	if limit <= 0 {
		limit = historyPageSize
	}
	room, sess, err := f.catalog.ResolveRoom(ctx, userID, svc, chatName)
	if err != nil {
		return nil, "", err
	}
	loc := f.catalog.userLocation(ctx, userID)

	events, err := sess.RecentMessages(ctx, room.ID, limit)
	if err != nil {
		return nil, "", err
	}
	members := f.memberNames(ctx, sess, room.ID)

	messages := make([]BridgeMessage, 0, len(events))
	for _, evt := range events {
		if msg, ok := decodeMessage(evt, svc, room.Name, members, loc); ok {
			messages = append(messages, *msg)
		}
	}
	// The transport already returns backward order, but re-sort anyway to
	// guard against non-monotonic chunks.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp > messages[j].Timestamp
	})
	return messages, room.Name, nil
}

// memberNames builds a sender display-name lookup for a room. A failure
// degrades to localpart-derived names.
func (f *Fetcher) memberNames(ctx context.Context, sess MatrixSession, roomID id.RoomID) map[id.UserID]string {
	members, err := sess.JoinedMembers(ctx, roomID)
	if err != nil {
		f.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("Failed to fetch member names")
		return nil
	}
	names := make(map[id.UserID]string, len(members))
	for _, m := range members {
		if m.DisplayName != "" {
			names[m.UserID] = m.DisplayName
		}
	}
	return names
}

// senderDisplayName resolves the display name of one event's sender,
// falling back to the stripped localpart.
func senderDisplayName(ctx context.Context, sess MatrixSession, evt *event.Event) string {
	members, err := sess.JoinedMembers(ctx, evt.RoomID)
	if err == nil {
		for _, m := range members {
			if m.UserID == evt.Sender && m.DisplayName != "" {
				return m.DisplayName
			}
		}
	}
	lp := localpart(evt.Sender)
	for _, svc := range AllServices {
		lp = strings.TrimPrefix(lp, svc.SenderPrefix())
	}
	return lp
}
