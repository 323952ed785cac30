// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge/smsfmt"
)

// maxMessageAge is the age gate for inbound messages. Anything older is a
// backlog replay (e.g. after a bridge reconnect) and is dropped silently.
// The boundary is exclusive: a message exactly this old is still processed.
const maxMessageAge = 30 * time.Minute

// creditFeatureKey is the entitlement feature consumed per notification.
const creditFeatureKey = "notification"

// Triage decides, for each inbound bridged message, whether a user-facing
// notification should go out and with what priority. The stages form a
// strict precedence chain; each stage's discard is final and the order must
// not change:
//
//  1. age gate
//  2. bridge-management-room check (hands off to the lifecycle monitor)
//  3. service inference
//  4. room-suffix / sender-prefix consistency
//  5. entitlement checks
//  6. content extraction and relay-error filtering
//  7. environment gate
//  8. priority senders
//  9. waiting checks
//  10. critical-message scoring
//
// Failures on the ingestion path are invisible to the user by design: a
// missed notification is a silent drop, there is no synchronous caller.
type Triage struct {
	repo      Repository
	sessions  SessionRegistry
	notifier  Notifier
	credits   CreditChecker
	scorer    Scorer
	dispatch  Dispatcher
	lifecycle *Lifecycle
	cfg       *Config
	log       zerolog.Logger
	clock     func() time.Time
}

// NewTriage wires the notification triage pipeline.
func NewTriage(repo Repository, sessions SessionRegistry, notifier Notifier, credits CreditChecker, scorer Scorer, dispatch Dispatcher, lifecycle *Lifecycle, cfg *Config, log zerolog.Logger) *Triage {
	return &Triage{
		repo:      repo,
		sessions:  sessions,
		notifier:  notifier,
		credits:   credits,
		scorer:    scorer,
		dispatch:  dispatch,
		lifecycle: lifecycle,
		cfg:       cfg,
		log:       log.With().Str("component", "triage").Logger(),
		clock:     time.Now,
	}
}

// HandleEvent runs one inbound Matrix event through the triage chain.
func (t *Triage) HandleEvent(ctx context.Context, userID int64, evt *event.Event) {
	log := t.log.With().
		Int64("user_id", userID).
		Str("trace_id", uuid.NewString()).
		Str("room_id", evt.RoomID.String()).
		Str("sender", evt.Sender.String()).
		Logger()

	// Stage 1: age gate. Saturating: a future origin timestamp counts as
	// age zero rather than wrapping.
	if age := t.messageAge(evt); age > maxMessageAge {
		log.Debug().Dur("age", age).Msg("Dropping stale message")
		return
	}

	// Stage 2: management rooms belong to the lifecycle monitor.
	if br := t.lifecycle.ManagementBridge(ctx, userID, evt.RoomID); br != nil {
		t.lifecycle.HandleManagementMessage(ctx, userID, br, evt)
		return
	}

	sess, ok := t.sessions.Get(userID)
	if !ok {
		log.Debug().Msg("No matrix session for user")
		return
	}
	roomName, err := sess.RoomDisplayName(ctx, evt.RoomID)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to resolve room display name")
		return
	}
	senderLP := localpart(evt.Sender)

	// Stage 3: service inference.
	svc, ok := InferService(roomName, senderLP)
	if !ok {
		log.Debug().Str("room_name", roomName).Msg("No service inferred")
		return
	}
	log = log.With().Str("service", svc.String()).Logger()

	// Stage 4: suffix/prefix consistency. With multiple bridges active a
	// mismatch means cross-service leakage, not a real chat message.
	if !strings.HasSuffix(strings.TrimSpace(roomName), svc.SuffixTag()) {
		log.Debug().Str("room_name", roomName).Msg("Room name lacks service suffix")
		return
	}
	if !strings.HasPrefix(senderLP, svc.SenderPrefix()) {
		log.Debug().Msg("Sender lacks service prefix")
		return
	}

	// Stage 5: entitlements.
	if !t.entitled(ctx, userID, log) {
		return
	}

	// Stage 6: content extraction and relay-error filtering.
	body, _, ok := extractContent(evt.Content.AsMessage())
	if !ok {
		log.Debug().Msg("Unsupported message type")
		return
	}
	if isErrorContent(body) {
		log.Debug().Msg("Dropping bridge relay error")
		return
	}

	// Stage 7: environment gate. Everything above still runs in
	// development so the chain stays exercised, but nothing is dispatched.
	if !t.cfg.IsProduction() {
		log.Debug().Str("environment", t.cfg.Environment).Msg("Suppressing notification outside production")
		return
	}

	chatName := svc.CleanDisplayName(roomName)
	senderName := senderDisplayName(ctx, sess, evt)

	// Stage 8: priority senders.
	if t.notifyPrioritySender(ctx, userID, svc, chatName, senderName, body, log) {
		return
	}

	synthetic := fmt.Sprintf("%s from %s: %s", svc.Title(), chatName, body)

	// Stage 9: waiting checks.
	if t.notifyWaitingCheck(ctx, userID, svc, synthetic, log) {
		return
	}

	// Stage 10: critical scoring.
	t.notifyCritical(ctx, userID, svc, synthetic, log)
}

// messageAge returns how far in the past the event's origin timestamp is,
// clamped at zero.
func (t *Triage) messageAge(evt *event.Event) time.Duration {
	age := t.clock().Sub(time.UnixMilli(evt.Timestamp))
	if age < 0 {
		return 0
	}
	return age
}

// entitled checks the subscription tier and proactive-agent setting. Lookup
// errors are logged and treated as not entitled.
func (t *Triage) entitled(ctx context.Context, userID int64, log zerolog.Logger) bool {
	tier2, err := t.repo.HasValidSubscriptionTier(ctx, userID, "tier 2")
	if err != nil {
		log.Warn().Err(err).Msg("Subscription lookup failed")
		return false
	}
	selfHosted := false
	if !tier2 {
		selfHosted, err = t.repo.HasValidSubscriptionTier(ctx, userID, "self_hosted")
		if err != nil {
			log.Warn().Err(err).Msg("Subscription lookup failed")
			return false
		}
	}
	if !tier2 && !selfHosted {
		log.Debug().Msg("No qualifying subscription tier")
		return false
	}
	proactive, err := t.repo.ProactiveAgentOn(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("Proactive agent lookup failed")
		return false
	}
	if !proactive {
		log.Debug().Msg("Proactive agent monitoring disabled")
		return false
	}
	return true
}

// notifyPrioritySender runs the priority-sender stage. It returns true when
// a notification was dispatched, which terminates the whole chain. A failed
// credit check logs a warning and moves on to the next configured sender; it
// is never retried.
func (t *Triage) notifyPrioritySender(ctx context.Context, userID int64, svc Service, chatName, senderName, body string, log zerolog.Logger) bool {
	senders, err := t.repo.PrioritySenders(ctx, userID, svc)
	if err != nil {
		log.Warn().Err(err).Msg("Priority sender lookup failed")
		return false
	}
	chatLower := strings.ToLower(chatName)
	senderLower := strings.ToLower(senderName)
	for _, ps := range senders {
		ident := strings.ToLower(svc.CleanDisplayName(ps.Sender))
		if ident == "" {
			continue
		}
		if !strings.Contains(chatLower, ident) && !strings.Contains(senderLower, ident) {
			continue
		}
		if err := t.credits.CheckUserCredits(ctx, userID, creditFeatureKey); err != nil {
			log.Warn().Err(err).Str("priority_sender", ps.Sender).Msg("Credit check failed for priority notification")
			continue
		}
		notiType := fmt.Sprintf("%s_priority_%s", svc, ps.NotifyVia.OrSMS())
		t.send(userID, smsfmt.Trim(svc.Title(), senderName, body), notiType, "", log)
		return true
	}
	return false
}

// notifyWaitingCheck runs the waiting-check stage. A matched check is
// deleted before the notification goes out so it fires at most once.
func (t *Triage) notifyWaitingCheck(ctx context.Context, userID int64, svc Service, synthetic string, log zerolog.Logger) bool {
	checks, err := t.repo.WaitingChecks(ctx, userID, svc)
	if err != nil {
		log.Warn().Err(err).Msg("Waiting check lookup failed")
		return false
	}
	if len(checks) == 0 {
		return false
	}
	match, err := t.scorer.CheckWaitingCheckMatch(ctx, synthetic, checks)
	if err != nil {
		log.Warn().Err(err).Msg("Waiting check match failed")
		return false
	}
	if match.CheckID == nil {
		return false
	}
	via := NotifyViaSMS
	for _, check := range checks {
		if check.ID == *match.CheckID {
			via = check.NotifyVia.OrSMS()
			break
		}
	}
	if err := t.repo.DeleteWaitingCheck(ctx, userID, *match.CheckID); err != nil {
		log.Warn().Err(err).Int64("check_id", *match.CheckID).Msg("Failed to delete fired waiting check")
	}
	body := match.Message
	if body == "" {
		body = truncateSynthetic(synthetic)
	}
	notiType := fmt.Sprintf("%s_waiting_check_%s", svc, via)
	t.send(userID, body, notiType, match.FirstMessage, log)
	return true
}

// notifyCritical runs the final stage. It only runs when the user's
// critical-monitoring setting is present.
func (t *Triage) notifyCritical(ctx context.Context, userID int64, svc Service, synthetic string, log zerolog.Logger) {
	enabled, err := t.repo.CriticalEnabled(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("Critical setting lookup failed")
		return
	}
	if enabled == nil {
		return
	}
	res, err := t.scorer.CheckMessageImportance(ctx, synthetic)
	if err != nil {
		log.Warn().Err(err).Msg("Importance check failed")
		return
	}
	if !res.Critical {
		return
	}
	body := res.Message
	if body == "" {
		body = truncateSynthetic(synthetic)
	}
	t.send(userID, body, fmt.Sprintf("%s_critical", svc), res.FirstMessage, log)
}

// send dispatches a notification detached from the triage decision so
// delivery latency never delays event-loop processing.
func (t *Triage) send(userID int64, body, notificationType, firstMessage string, log zerolog.Logger) {
	log.Info().Str("notification_type", notificationType).Msg("Dispatching notification")
	t.dispatch.Dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.notifier.SendNotification(ctx, userID, body, notificationType, firstMessage); err != nil {
			log.Warn().Err(err).Str("notification_type", notificationType).Msg("Notification delivery failed")
		}
	})
}

// truncateSynthetic caps a synthesized notification body to the SMS limit.
func truncateSynthetic(synthetic string) string {
	runes := []rune(synthetic)
	if len(runes) <= smsfmt.MaxLength {
		return synthetic
	}
	return string(runes[:smsfmt.MaxLength-3]) + "..."
}
