// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"strings"
)

// Service identifies a bridged messaging network. The set is closed: every
// per-service convention (skip terms, sender prefix, room suffix, bridge bot
// account) lives in the table below so that adding a network is a single,
// compiler-visible change.
type Service string

const (
	ServiceWhatsApp  Service = "whatsapp"
	ServiceTelegram  Service = "telegram"
	ServiceSignal    Service = "signal"
	ServiceInstagram Service = "instagram"
)

// AllServices lists every supported bridged network.
var AllServices = []Service{ServiceWhatsApp, ServiceTelegram, ServiceSignal, ServiceInstagram}

// serviceConventions holds the naming conventions the bridges use for
// their Matrix-side rooms and ghost users.
type serviceConventions struct {
	// suffixTag is the parenthetical appended to bridged room names,
	// e.g. "Alice (WA)".
	suffixTag string
	// botEnvKey names the env var holding the bridge bot's MXID.
	botEnvKey string
}

var conventions = map[Service]serviceConventions{
	ServiceWhatsApp:  {suffixTag: "(WA)", botEnvKey: "WHATSAPP_BRIDGE_BOT"},
	ServiceTelegram:  {suffixTag: "(TG)", botEnvKey: "TELEGRAM_BRIDGE_BOT"},
	ServiceSignal:    {suffixTag: "(Signal)", botEnvKey: "SIGNAL_BRIDGE_BOT"},
	ServiceInstagram: {suffixTag: "(IG)", botEnvKey: "INSTAGRAM_BRIDGE_BOT"},
}

// ParseService converts a raw string to a Service.
func ParseService(raw string) (Service, bool) {
	svc := Service(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := conventions[svc]
	return svc, ok
}

// Valid reports whether the service is one of the supported networks.
func (s Service) Valid() bool {
	_, ok := conventions[s]
	return ok
}

func (s Service) String() string {
	return string(s)
}

// Title returns the service name with the first letter capitalized, matching
// the convention the bridges use in room names and status messages.
func (s Service) Title() string {
	return capitalize(string(s))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SkipTerms returns display-name fragments that mark a room as bridge
// infrastructure (bot rooms, admin rooms) rather than a bridged chat.
// Matching is case-insensitive substring containment, and it runs before any
// membership check: a name match is cheaper and more authoritative.
func (s Service) SkipTerms() []string {
	return []string{
		string(s) + "bot",
		string(s) + "-bridge",
		s.Title() + " Bridge",
		string(s) + " bridge bot",
	}
}

// MatchesSkipTerm reports whether the room display name marks the room as
// bridge infrastructure for this service.
func (s Service) MatchesSkipTerm(displayName string) bool {
	lower := strings.ToLower(displayName)
	for _, term := range s.SkipTerms() {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// SenderPrefix returns the localpart prefix of this service's ghost users,
// e.g. "whatsapp_" for @whatsapp_15551234567:example.org.
func (s Service) SenderPrefix() string {
	return string(s) + "_"
}

// SuffixTag returns the parenthetical room-name suffix, e.g. "(WA)".
func (s Service) SuffixTag() string {
	return conventions[s].suffixTag
}

// BotEnvKey names the environment variable that configures the bridge bot
// account for this service.
func (s Service) BotEnvKey() string {
	return conventions[s].botEnvKey
}

// CleanDisplayName derives the chat name from a room's raw display name by
// stripping the service suffix when present. When the suffix is absent the
// trimmed raw name is returned unchanged. The derivation is deterministic so
// the same room always yields the same chat name.
func (s Service) CleanDisplayName(raw string) string {
	name := strings.TrimSpace(raw)
	if tag := s.SuffixTag(); tag != "" && strings.HasSuffix(name, tag) {
		name = strings.TrimSpace(strings.TrimSuffix(name, tag))
	}
	return name
}

// InferService derives the service a message belongs to from the room display
// name and the sender's localpart. The ghost-user prefix is checked first
// since it is exact; room-name fragments are a fallback heuristic.
func InferService(roomName, senderLocalpart string) (Service, bool) {
	for _, svc := range AllServices {
		if strings.HasPrefix(senderLocalpart, svc.SenderPrefix()) {
			return svc, true
		}
	}
	name := strings.ToLower(roomName)
	switch {
	case strings.Contains(name, "whatsapp") || strings.Contains(name, "(wa)"):
		return ServiceWhatsApp, true
	case strings.Contains(name, "telegram") || strings.Contains(name, "(tg)"):
		return ServiceTelegram, true
	case strings.Contains(name, "signal"):
		return ServiceSignal, true
	case strings.Contains(name, "instagram") || strings.Contains(name, "(ig)"):
		return ServiceInstagram, true
	}
	return "", false
}
