// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MessageType classifies a decoded bridged message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageNotice   MessageType = "notice"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageFile     MessageType = "file"
	MessageAudio    MessageType = "audio"
	MessageLocation MessageType = "location"
	MessageEmote    MessageType = "emote"
)

// BridgeRoom is one bridged chat room as seen by the catalog.
type BridgeRoom struct {
	ID                    id.RoomID `json:"room_id"`
	Name                  string    `json:"display_name"`
	LastActivity          int64     `json:"last_activity"`
	LastActivityFormatted string    `json:"last_activity_formatted"`
}

// BridgeMessage is one normalized inbound bridged message. Instances are
// transient: produced by the fetcher, consumed by the API layer or triage,
// never persisted.
type BridgeMessage struct {
	Sender             string      `json:"sender"`
	SenderDisplayName  string      `json:"sender_display_name"`
	Content            string      `json:"content"`
	Timestamp          int64       `json:"timestamp"`
	FormattedTimestamp string      `json:"formatted_timestamp"`
	MessageType        MessageType `json:"message_type"`
	RoomName           string      `json:"room_name"`
	MediaURL           string      `json:"media_url,omitempty"`
}

// errorContentFragments mark bodies the bridges emit when relaying failed.
// Such events are noise, not messages: both the fetcher and triage drop them.
var errorContentFragments = []string{
	"Failed to bridge media",
	"media no longer available",
	"Decrypting message from WhatsApp failed",
}

const errorContentPrefix = "* Failed to"

// isErrorContent reports whether the body is a bridge relay-failure notice.
func isErrorContent(body string) bool {
	if strings.HasPrefix(body, errorContentPrefix) {
		return true
	}
	for _, frag := range errorContentFragments {
		if strings.Contains(body, frag) {
			return true
		}
	}
	return false
}

// extractContent maps Matrix message content to a normalized body and type.
// Media without a caption gets a placeholder body; location events have no
// body field at all, so they always get the placeholder. Unsupported types
// return ok=false and are dropped, not errored.
func extractContent(content *event.MessageEventContent) (body string, msgType MessageType, ok bool) {
	if content == nil {
		return "", "", false
	}
	switch content.MsgType {
	case event.MsgText:
		return content.Body, MessageText, true
	case event.MsgNotice:
		return content.Body, MessageNotice, true
	case event.MsgEmote:
		return content.Body, MessageEmote, true
	case event.MsgImage:
		return orPlaceholder(content.Body, "📎 IMAGE"), MessageImage, true
	case event.MsgVideo:
		return orPlaceholder(content.Body, "📎 VIDEO"), MessageVideo, true
	case event.MsgFile:
		return orPlaceholder(content.Body, "📎 FILE"), MessageFile, true
	case event.MsgAudio:
		return orPlaceholder(content.Body, "📎 AUDIO"), MessageAudio, true
	case event.MsgLocation:
		return "📍 LOCATION", MessageLocation, true
	default:
		return "", "", false
	}
}

func orPlaceholder(body, placeholder string) string {
	if strings.TrimSpace(body) == "" {
		return placeholder
	}
	return body
}

// localpart extracts the localpart of a Matrix user ID without validating
// the homeserver part.
func localpart(userID id.UserID) string {
	s := strings.TrimPrefix(string(userID), "@")
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// eventSeconds converts a transport-native millisecond timestamp to whole
// seconds, truncating.
func eventSeconds(evt *event.Event) int64 {
	return evt.Timestamp / 1000
}

// formatTimestamp renders a unix-seconds timestamp in the given location.
func formatTimestamp(secs int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(secs, 0).In(loc).Format("2006-01-02 15:04")
}

// decodeMessage converts a raw Matrix event into a BridgeMessage. Events
// whose sender does not carry the service's ghost prefix, whose type is
// unsupported, or whose body is a relay-failure notice decode to (nil, false)
// and are skipped silently.
func decodeMessage(evt *event.Event, svc Service, roomName string, members map[id.UserID]string, loc *time.Location) (*BridgeMessage, bool) {
	if evt.Type != event.EventMessage {
		return nil, false
	}
	lp := localpart(evt.Sender)
	if !strings.HasPrefix(lp, svc.SenderPrefix()) {
		return nil, false
	}
	content := evt.Content.AsMessage()
	body, msgType, ok := extractContent(content)
	if !ok {
		return nil, false
	}
	if isErrorContent(body) {
		return nil, false
	}
	displayName := members[evt.Sender]
	if displayName == "" {
		displayName = lp
	}
	secs := eventSeconds(evt)
	msg := &BridgeMessage{
		Sender:             string(evt.Sender),
		SenderDisplayName:  displayName,
		Content:            body,
		Timestamp:          secs,
		FormattedTimestamp: formatTimestamp(secs, loc),
		MessageType:        msgType,
		RoomName:           roomName,
	}
	if content.URL != "" {
		msg.MediaURL = string(content.URL)
	}
	return msg, true
}
