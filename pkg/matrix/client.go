// Copyright 2025-2026 Rasmus Ahtava

// Package matrix adapts maunium.net/go/mautrix to the capability contract
// the bridge core consumes, and owns the per-user session registry.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

// Client is one authenticated per-user Matrix session. It implements
// bridge.MatrixSession.
type Client struct {
	mx  *mautrix.Client
	log zerolog.Logger

	unreadMu sync.RWMutex
	unread   map[id.RoomID]int
}

var _ bridge.MatrixSession = (*Client)(nil)

// Dial creates a Matrix client for an existing access token.
func Dial(homeserverURL string, userID id.UserID, accessToken string, log zerolog.Logger) (*Client, error) {
	mx, err := mautrix.NewClient(homeserverURL, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix_client").Str("mxid", userID.String()).Logger()
	mx.Log = log
	return &Client{
		mx:     mx,
		log:    log,
		unread: make(map[id.RoomID]int),
	}, nil
}

// UserID returns the session's own Matrix user ID.
func (c *Client) UserID() id.UserID {
	return c.mx.UserID
}

// StartSync registers the message handler and runs the sync loop until the
// context is cancelled. Unread notification counts are captured from every
// sync response so the catalog can filter on them without extra calls.
func (c *Client) StartSync(ctx context.Context, onMessage func(context.Context, *event.Event)) {
	syncer := c.mx.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, onMessage)
	syncer.OnSync(c.trackUnread)
	go func() {
		if err := c.mx.SyncWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("Sync loop ended")
		}
	}()
}

func (c *Client) trackUnread(_ context.Context, resp *mautrix.RespSync, _ string) bool {
	c.unreadMu.Lock()
	defer c.unreadMu.Unlock()
	for roomID, room := range resp.Rooms.Join {
		if room.UnreadNotifications != nil {
			c.unread[roomID] = room.UnreadNotifications.NotificationCount
		}
	}
	return true
}

// JoinedRooms implements bridge.MatrixSession.
func (c *Client) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := c.mx.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

// RoomDisplayName resolves a room's display name from its m.room.name state,
// falling back to the other members' display names for unnamed DMs.
func (c *Client) RoomDisplayName(ctx context.Context, roomID id.RoomID) (string, error) {
	var content event.RoomNameEventContent
	err := c.mx.StateEvent(ctx, roomID, event.StateRoomName, "", &content)
	if err == nil && content.Name != "" {
		return content.Name, nil
	}

	members, err := c.JoinedMembers(ctx, roomID)
	if err != nil {
		return "", err
	}
	var names []string
	for _, m := range members {
		if m.UserID == c.mx.UserID {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = string(m.UserID)
		}
		names = append(names, name)
	}
	return strings.Join(names, ", "), nil
}

// JoinedMembers implements bridge.MatrixSession.
func (c *Client) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]bridge.RoomMember, error) {
	resp, err := c.mx.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get joined members: %w", err)
	}
	members := make([]bridge.RoomMember, 0, len(resp.Joined))
	for userID, member := range resp.Joined {
		members = append(members, bridge.RoomMember{
			UserID:      userID,
			DisplayName: member.DisplayName,
		})
	}
	return members, nil
}

// RecentMessages fetches up to limit events backward (most recent first) and
// parses their content so the core can decode them.
func (c *Client) RecentMessages(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	resp, err := c.mx.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for _, evt := range resp.Chunk {
		if evt.Type == event.EventMessage {
			// Undecodable payloads stay raw and are skipped downstream.
			_ = evt.Content.ParseRaw(evt.Type)
		}
	}
	return resp.Chunk, nil
}

// UnreadNotificationCount implements bridge.MatrixSession from the counts
// captured during sync.
func (c *Client) UnreadNotificationCount(roomID id.RoomID) int {
	c.unreadMu.RLock()
	defer c.unreadMu.RUnlock()
	return c.unread[roomID]
}

// SendText implements bridge.MatrixSession.
func (c *Client) SendText(ctx context.Context, roomID id.RoomID, body string) (id.EventID, error) {
	resp, err := c.mx.SendText(ctx, roomID, body)
	if err != nil {
		return "", fmt.Errorf("failed to send text: %w", err)
	}
	return resp.EventID, nil
}

// SendMedia uploads the payload to the homeserver and sends it as a media
// event. The caption, when present, becomes the event body.
func (c *Client) SendMedia(ctx context.Context, roomID id.RoomID, data []byte, mimeType, fileName, caption string) (id.EventID, error) {
	upload, err := c.mx.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}
	body := caption
	if body == "" {
		body = fileName
	}
	content := &event.MessageEventContent{
		MsgType: msgTypeForMime(mimeType),
		Body:    body,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}
	resp, err := c.mx.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("failed to send media event: %w", err)
	}
	return resp.EventID, nil
}

func msgTypeForMime(mimeType string) event.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return event.MsgImage
	case strings.HasPrefix(mimeType, "video/"):
		return event.MsgVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}
