// Copyright 2025-2026 Rasmus Ahtava

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBridgeRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.FindBridge(ctx, 7, bridge.ServiceWhatsApp)
	if err != nil {
		t.Fatalf("FindBridge: %v", err)
	}
	if got != nil {
		t.Fatalf("missing bridge: got %+v, want nil", got)
	}

	br := &bridge.Bridge{
		UserID:  7,
		Service: bridge.ServiceWhatsApp,
		Status:  bridge.BridgeStatusConnected,
		RoomID:  "!mgmt:example.org",
	}
	if err := st.UpsertBridge(ctx, br); err != nil {
		t.Fatalf("UpsertBridge: %v", err)
	}

	got, err = st.FindBridge(ctx, 7, bridge.ServiceWhatsApp)
	if err != nil {
		t.Fatalf("FindBridge: %v", err)
	}
	if got == nil || got.Status != bridge.BridgeStatusConnected || got.RoomID != "!mgmt:example.org" {
		t.Fatalf("round trip: got %+v", got)
	}

	// Upsert replaces in place.
	br.Status = bridge.BridgeStatusConnecting
	if err := st.UpsertBridge(ctx, br); err != nil {
		t.Fatalf("UpsertBridge update: %v", err)
	}
	got, _ = st.FindBridge(ctx, 7, bridge.ServiceWhatsApp)
	if got.Status != bridge.BridgeStatusConnecting {
		t.Errorf("updated status: got %q", got.Status)
	}

	if err := st.DeleteBridge(ctx, 7, bridge.ServiceWhatsApp); err != nil {
		t.Fatalf("DeleteBridge: %v", err)
	}
	got, _ = st.FindBridge(ctx, 7, bridge.ServiceWhatsApp)
	if got != nil {
		t.Errorf("bridge survived delete: %+v", got)
	}
}

func TestHasActiveBridges(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	active, err := st.HasActiveBridges(ctx, 7)
	if err != nil {
		t.Fatalf("HasActiveBridges: %v", err)
	}
	if active {
		t.Fatal("empty store reports active bridges")
	}

	_ = st.UpsertBridge(ctx, &bridge.Bridge{UserID: 7, Service: bridge.ServiceSignal, Status: bridge.BridgeStatusConnecting})
	active, _ = st.HasActiveBridges(ctx, 7)
	if active {
		t.Error("connecting bridge counted as active")
	}

	_ = st.UpsertBridge(ctx, &bridge.Bridge{UserID: 7, Service: bridge.ServiceTelegram, Status: bridge.BridgeStatusConnected})
	active, _ = st.HasActiveBridges(ctx, 7)
	if !active {
		t.Error("connected bridge not counted")
	}

	// Other users' bridges are invisible.
	active, _ = st.HasActiveBridges(ctx, 8)
	if active {
		t.Error("bridge leaked across users")
	}
}

func TestPrioritySenders(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AddPrioritySender(ctx, 7, bridge.ServiceWhatsApp, bridge.PrioritySender{Sender: "Alice", NotifyVia: bridge.NotifyViaCall}); err != nil {
		t.Fatalf("AddPrioritySender: %v", err)
	}
	_ = st.AddPrioritySender(ctx, 7, bridge.ServiceTelegram, bridge.PrioritySender{Sender: "Boss"})

	senders, err := st.PrioritySenders(ctx, 7, bridge.ServiceWhatsApp)
	if err != nil {
		t.Fatalf("PrioritySenders: %v", err)
	}
	if len(senders) != 1 {
		t.Fatalf("got %d senders, want 1 (service-scoped)", len(senders))
	}
	if senders[0].Sender != "Alice" || senders[0].NotifyVia != bridge.NotifyViaCall {
		t.Errorf("sender: got %+v", senders[0])
	}
}

func TestWaitingChecks(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id1, err := st.AddWaitingCheck(ctx, 7, bridge.ServiceWhatsApp, bridge.WaitingCheck{Content: "package delivery", NotifyVia: bridge.NotifyViaSMS})
	if err != nil {
		t.Fatalf("AddWaitingCheck: %v", err)
	}
	id2, _ := st.AddWaitingCheck(ctx, 7, bridge.ServiceWhatsApp, bridge.WaitingCheck{Content: "job offer"})
	if id1 == id2 {
		t.Fatal("check ids not unique")
	}

	checks, err := st.WaitingChecks(ctx, 7, bridge.ServiceWhatsApp)
	if err != nil {
		t.Fatalf("WaitingChecks: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(checks))
	}

	if err := st.DeleteWaitingCheck(ctx, 7, id1); err != nil {
		t.Fatalf("DeleteWaitingCheck: %v", err)
	}
	checks, _ = st.WaitingChecks(ctx, 7, bridge.ServiceWhatsApp)
	if len(checks) != 1 || checks[0].ID != id2 {
		t.Fatalf("after delete: got %+v", checks)
	}

	// Deleting again is a no-op, not an error.
	if err := st.DeleteWaitingCheck(ctx, 7, id1); err != nil {
		t.Errorf("repeated delete: %v", err)
	}
}

func TestUserSettings(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// Missing rows fall back to safe defaults.
	tz, err := st.UserTimezone(ctx, 7)
	if err != nil {
		t.Fatalf("UserTimezone: %v", err)
	}
	if tz != "UTC" {
		t.Errorf("default timezone: got %q", tz)
	}
	critical, err := st.CriticalEnabled(ctx, 7)
	if err != nil {
		t.Fatalf("CriticalEnabled: %v", err)
	}
	if critical != nil {
		t.Errorf("default critical setting: got %v, want nil", *critical)
	}
	proactive, _ := st.ProactiveAgentOn(ctx, 7)
	if proactive {
		t.Error("default proactive setting: got true")
	}

	enabled := "sms"
	if err := st.SetUserSettings(ctx, 7, "Europe/Helsinki", true, &enabled); err != nil {
		t.Fatalf("SetUserSettings: %v", err)
	}
	tz, _ = st.UserTimezone(ctx, 7)
	if tz != "Europe/Helsinki" {
		t.Errorf("timezone: got %q", tz)
	}
	critical, _ = st.CriticalEnabled(ctx, 7)
	if critical == nil || *critical != "sms" {
		t.Errorf("critical setting: got %v", critical)
	}
	proactive, _ = st.ProactiveAgentOn(ctx, 7)
	if !proactive {
		t.Error("proactive setting lost")
	}

	// Clearing the critical setting stores NULL, not an empty string.
	if err := st.SetUserSettings(ctx, 7, "Europe/Helsinki", true, nil); err != nil {
		t.Fatalf("SetUserSettings clear: %v", err)
	}
	critical, _ = st.CriticalEnabled(ctx, 7)
	if critical != nil {
		t.Errorf("cleared critical setting: got %v", *critical)
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	ok, err := st.HasValidSubscriptionTier(ctx, 7, "tier 2")
	if err != nil {
		t.Fatalf("HasValidSubscriptionTier: %v", err)
	}
	if ok {
		t.Fatal("empty store reports a subscription")
	}

	if err := st.SetSubscription(ctx, 7, "tier 2", true); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
	ok, _ = st.HasValidSubscriptionTier(ctx, 7, "tier 2")
	if !ok {
		t.Error("active subscription not found")
	}
	ok, _ = st.HasValidSubscriptionTier(ctx, 7, "self_hosted")
	if ok {
		t.Error("wrong tier matched")
	}

	_ = st.SetSubscription(ctx, 7, "tier 2", false)
	ok, _ = st.HasValidSubscriptionTier(ctx, 7, "tier 2")
	if ok {
		t.Error("deactivated subscription still valid")
	}
}

func TestMatrixAccounts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	accounts, err := st.MatrixAccounts(ctx)
	if err != nil {
		t.Fatalf("MatrixAccounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("empty store returned %d accounts", len(accounts))
	}

	acct := MatrixAccount{UserID: 7, MXID: "@rasmus:example.org", AccessToken: "syt_secret"}
	if err := st.SetMatrixAccount(ctx, acct); err != nil {
		t.Fatalf("SetMatrixAccount: %v", err)
	}
	// Re-login replaces the token.
	acct.AccessToken = "syt_rotated"
	if err := st.SetMatrixAccount(ctx, acct); err != nil {
		t.Fatalf("SetMatrixAccount update: %v", err)
	}

	accounts, _ = st.MatrixAccounts(ctx)
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accounts))
	}
	if accounts[0].MXID != "@rasmus:example.org" || accounts[0].AccessToken != "syt_rotated" {
		t.Errorf("account: got %+v", accounts[0])
	}
}
