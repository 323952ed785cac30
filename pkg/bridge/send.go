// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Sender routes outbound messages and media to a named bridged chat.
type Sender struct {
	catalog *Catalog
	log     zerolog.Logger
}

// NewSender creates an outbound sender on top of the catalog.
func NewSender(catalog *Catalog, log zerolog.Logger) *Sender {
	return &Sender{
		catalog: catalog,
		log:     log.With().Str("component", "sender").Logger(),
	}
}

// SendMessage resolves the chat name and sends a text message, returning the
// resolved room display name.
func (s *Sender) SendMessage(ctx context.Context, userID int64, svc Service, chatName, text string) (string, error) {
	room, sess, err := s.catalog.ResolveRoom(ctx, userID, svc, chatName)
	if err != nil {
		return "", err
	}
	eventID, err := sess.SendText(ctx, room.ID, text)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %q: %w", room.Name, err)
	}
	s.log.Info().
		Int64("user_id", userID).
		Str("service", svc.String()).
		Str("room_id", room.ID.String()).
		Str("event_id", eventID.String()).
		Msg("Sent bridged message")
	return room.Name, nil
}

// SendMedia resolves the chat name, uploads the payload to the homeserver
// and sends it as a media event with an optional caption. Returns the
// resolved room display name.
func (s *Sender) SendMedia(ctx context.Context, userID int64, svc Service, chatName string, data []byte, mimeType, fileName, caption string) (string, error) {
	room, sess, err := s.catalog.ResolveRoom(ctx, userID, svc, chatName)
	if err != nil {
		return "", err
	}
	eventID, err := sess.SendMedia(ctx, room.ID, data, mimeType, fileName, caption)
	if err != nil {
		return "", fmt.Errorf("failed to send media to %q: %w", room.Name, err)
	}
	s.log.Info().
		Int64("user_id", userID).
		Str("service", svc.String()).
		Str("room_id", room.ID.String()).
		Str("event_id", eventID.String()).
		Str("mime_type", mimeType).
		Int("size", len(data)).
		Msg("Sent bridged media")
	return room.Name, nil
}
