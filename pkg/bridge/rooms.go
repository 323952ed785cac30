// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"
)

const (
	// maxListedRooms caps every room listing.
	maxListedRooms = 10
	// maxDMMembers is the DM heuristic for recent contacts: rooms with more
	// joined members than this are group chats, not contacts.
	maxDMMembers = 3
	// defaultFanout bounds the per-room inspection concurrency. Room counts
	// are typically tens to low hundreds; the cap keeps one user's listing
	// from monopolizing the homeserver connection.
	defaultFanout = 16
)

// Catalog enumerates joined Matrix rooms and classifies which belong to a
// bridged service.
type Catalog struct {
	repo     Repository
	sessions SessionRegistry
	log      zerolog.Logger
	fanout   int
}

// NewCatalog creates a room catalog.
func NewCatalog(repo Repository, sessions SessionRegistry, log zerolog.Logger) *Catalog {
	return &Catalog{
		repo:     repo,
		sessions: sessions,
		log:      log.With().Str("component", "catalog").Logger(),
		fanout:   defaultFanout,
	}
}

// session checks the shared precondition of all service-room operations (the
// user's bridge must be connected) and returns the user's Matrix session.
// No Matrix I/O happens before the precondition holds.
func (c *Catalog) session(ctx context.Context, userID int64, svc Service) (MatrixSession, error) {
	br, err := c.repo.FindBridge(ctx, userID, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s bridge: %w", svc, err)
	}
	if br == nil || br.Status != BridgeStatusConnected {
		return nil, fmt.Errorf("%s bridge is not connected, please connect it first: %w", svc.Title(), ErrBridgeNotConnected)
	}
	sess, ok := c.sessions.Get(userID)
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNoSession)
	}
	return sess, nil
}

// listOptions tunes one catalog pass.
type listOptions struct {
	unreadOnly bool
	// maxMembers drops rooms with more joined members, 0 disables.
	maxMembers int
	// cap truncates the sorted result, 0 disables.
	cap int
	// skipActivity skips the per-room latest-message fetch.
	skipActivity bool
}

// ListServiceRooms returns the user's bridged rooms for a service, most
// recently active first, capped at ten.
func (c *Catalog) ListServiceRooms(ctx context.Context, userID int64, svc Service, unreadOnly bool) ([]BridgeRoom, error) {
	sess, err := c.session(ctx, userID, svc)
	if err != nil {
		return nil, err
	}
	loc := c.userLocation(ctx, userID)
	return c.collectRooms(ctx, sess, svc, loc, listOptions{unreadOnly: unreadOnly, cap: maxListedRooms})
}

// ListRecentContacts returns the user's most recently active direct chats
// for a service. Rooms with more than three joined members are excluded.
func (c *Catalog) ListRecentContacts(ctx context.Context, userID int64, svc Service) ([]BridgeRoom, error) {
	sess, err := c.session(ctx, userID, svc)
	if err != nil {
		return nil, err
	}
	loc := c.userLocation(ctx, userID)
	return c.collectRooms(ctx, sess, svc, loc, listOptions{maxMembers: maxDMMembers, cap: maxListedRooms})
}

// Candidates returns every bridged room of the service as matcher input,
// with derived chat names. No cap: the matcher must see all rooms.
func (c *Catalog) Candidates(ctx context.Context, userID int64, svc Service) ([]RoomCandidate, error) {
	sess, err := c.session(ctx, userID, svc)
	if err != nil {
		return nil, err
	}
	rooms, err := c.collectRooms(ctx, sess, svc, time.UTC, listOptions{})
	if err != nil {
		return nil, err
	}
	candidates := make([]RoomCandidate, len(rooms))
	for i, r := range rooms {
		candidates[i] = RoomCandidate{
			ID:           r.ID,
			Name:         r.Name,
			ChatName:     svc.CleanDisplayName(r.Name),
			LastActivity: r.LastActivity,
		}
	}
	return candidates, nil
}

// SearchRooms resolves a free-text query to a ranked room list.
func (c *Catalog) SearchRooms(ctx context.Context, userID int64, svc Service, query string) ([]Match, error) {
	candidates, err := c.Candidates(ctx, userID, svc)
	if err != nil {
		return nil, err
	}
	return RankRooms(candidates, query), nil
}

// ResolveRoom resolves a free-text chat name to the single best room.
func (c *Catalog) ResolveRoom(ctx context.Context, userID int64, svc Service, chatName string) (RoomCandidate, MatrixSession, error) {
	sess, err := c.session(ctx, userID, svc)
	if err != nil {
		return RoomCandidate{}, nil, err
	}
	rooms, err := c.collectRooms(ctx, sess, svc, time.UTC, listOptions{})
	if err != nil {
		return RoomCandidate{}, nil, err
	}
	candidates := make([]RoomCandidate, len(rooms))
	for i, r := range rooms {
		candidates[i] = RoomCandidate{
			ID:           r.ID,
			Name:         r.Name,
			ChatName:     svc.CleanDisplayName(r.Name),
			LastActivity: r.LastActivity,
		}
	}
	match, err := MatchRoom(candidates, chatName)
	if err != nil {
		return RoomCandidate{}, nil, err
	}
	return match.Candidate, sess, nil
}

// collectRooms fans out over the user's joined rooms with bounded
// concurrency. Individual room failures contribute nothing to the result and
// never abort the listing; only the joined-rooms call itself can fail.
func (c *Catalog) collectRooms(ctx context.Context, sess MatrixSession, svc Service, loc *time.Location, opts listOptions) ([]BridgeRoom, error) {
	roomIDs, err := sess.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}

	results := make([]*BridgeRoom, len(roomIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.fanout)
	for i, roomID := range roomIDs {
		eg.Go(func() error {
			results[i] = c.inspectRoom(egCtx, sess, svc, roomID, loc, opts)
			return nil
		})
	}
	// Per-room errors are absorbed in inspectRoom, never returned.
	_ = eg.Wait()

	rooms := make([]BridgeRoom, 0, len(results))
	for _, r := range results {
		if r != nil {
			rooms = append(rooms, *r)
		}
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].LastActivity > rooms[j].LastActivity
	})
	if opts.cap > 0 && len(rooms) > opts.cap {
		rooms = rooms[:opts.cap]
	}
	return rooms, nil
}

// inspectRoom classifies one room, returning nil when the room does not
// belong to the service or any of its lookups failed. The skip-term check
// runs before the membership check: it is cheaper and more authoritative.
func (c *Catalog) inspectRoom(ctx context.Context, sess MatrixSession, svc Service, roomID id.RoomID, loc *time.Location, opts listOptions) *BridgeRoom {
	name, err := sess.RoomDisplayName(ctx, roomID)
	if err != nil {
		c.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("Failed to get room display name")
		return nil
	}
	if svc.MatchesSkipTerm(name) {
		return nil
	}

	members, err := sess.JoinedMembers(ctx, roomID)
	if err != nil {
		c.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("Failed to get room members")
		return nil
	}
	hasGhost := false
	for _, m := range members {
		if strings.HasPrefix(localpart(m.UserID), svc.SenderPrefix()) {
			hasGhost = true
			break
		}
	}
	if !hasGhost {
		return nil
	}
	if opts.maxMembers > 0 && len(members) > opts.maxMembers {
		return nil
	}
	if opts.unreadOnly && sess.UnreadNotificationCount(roomID) == 0 {
		return nil
	}

	var lastActivity int64
	if !opts.skipActivity {
		// Errors degrade to zero activity instead of sinking the listing.
		msgs, err := sess.RecentMessages(ctx, roomID, 1)
		if err != nil {
			c.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("Failed to fetch latest message")
		} else if len(msgs) > 0 {
			lastActivity = eventSeconds(msgs[0])
		}
	}

	return &BridgeRoom{
		ID:                    roomID,
		Name:                  strings.TrimSpace(name),
		LastActivity:          lastActivity,
		LastActivityFormatted: formatTimestamp(lastActivity, loc),
	}
}

// userLocation loads the user's timezone, falling back to UTC.
func (c *Catalog) userLocation(ctx context.Context, userID int64) *time.Location {
	tz, err := c.repo.UserTimezone(ctx, userID)
	if err != nil || tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		c.log.Debug().Err(err).Str("timezone", tz).Msg("Invalid user timezone")
		return time.UTC
	}
	return loc
}
