// Copyright 2025-2026 Rasmus Ahtava

// Package bridge implements the message-routing and notification-triage
// core that sits between per-user Matrix sessions and the lightfriend
// SMS/voice notification system.
//
// # Core Types
//
// [Catalog] enumerates a user's joined Matrix rooms and classifies which
// belong to a bridged service (WhatsApp, Telegram, Signal, Instagram),
// using per-service naming conventions from the [Service] table.
//
// [Fetcher] pulls message history from bridged rooms and normalizes raw
// Matrix events into [BridgeMessage] values.
//
// [MatchRoom] resolves free-text chat names to rooms through a three-tier
// exact/substring/similarity cascade; it is a pure function so the fuzzy
// matching is testable without a Matrix client.
//
// [Triage] runs every inbound bridged message through a strict ten-stage
// precedence chain (age gate, management-room hand-off, service inference,
// consistency, entitlements, content filtering, environment gate, priority
// senders, waiting checks, critical scoring) and dispatches notifications
// detached from event-loop processing.
//
// [Lifecycle] watches bridge management rooms for bridge-bot disconnection
// notices and tears down dead per-user session state. The keyword scan is a
// documented heuristic over bot prose, not a protocol handshake.
//
// # Collaborators
//
// Persistence, notification delivery, credit accounting and importance
// scoring are external collaborators behind the narrow interfaces in
// interfaces.go. The core owns no shared mutable state beyond what the
// injected [SessionRegistry] guards.
//
// # Sub-packages
//
//   - smsfmt renders notification bodies into the 157-character SMS wire
//     format with rune-accurate budgeting.
package bridge
