// Copyright 2025-2026 Rasmus Ahtava

// Package store implements the bridge repository contract on SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

// Store is a SQLite-backed repository. It implements bridge.Repository.
type Store struct {
	db *sql.DB
}

var _ bridge.Repository = (*Store)(nil)

// MatrixAccount is one user's Matrix login, used at boot to restore
// per-user sessions.
type MatrixAccount struct {
	UserID      int64
	MXID        string
	AccessToken string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bridges (
		user_id INTEGER NOT NULL,
		bridge_type TEXT NOT NULL,
		status TEXT NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, bridge_type)
	)`,
	`CREATE TABLE IF NOT EXISTS priority_senders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		service TEXT NOT NULL,
		sender TEXT NOT NULL,
		noti_type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS waiting_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		service TEXT NOT NULL,
		content TEXT NOT NULL,
		noti_type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		proactive_agent_on INTEGER NOT NULL DEFAULT 0,
		critical_enabled TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		user_id INTEGER NOT NULL,
		tier TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, tier)
	)`,
	`CREATE TABLE IF NOT EXISTS matrix_accounts (
		user_id INTEGER PRIMARY KEY,
		mxid TEXT NOT NULL,
		access_token TEXT NOT NULL
	)`,
}

// Open opens (and if needed bootstraps) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindBridge implements bridge.Repository. A missing bridge is (nil, nil).
func (s *Store) FindBridge(ctx context.Context, userID int64, svc bridge.Service) (*bridge.Bridge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, room_id FROM bridges WHERE user_id = ? AND bridge_type = ?`,
		userID, string(svc))
	var status, roomID string
	if err := row.Scan(&status, &roomID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query bridge: %w", err)
	}
	return &bridge.Bridge{
		UserID:  userID,
		Service: svc,
		Status:  bridge.BridgeStatus(status),
		RoomID:  id.RoomID(roomID),
	}, nil
}

// UpsertBridge creates or replaces a bridge record.
func (s *Store) UpsertBridge(ctx context.Context, br *bridge.Bridge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridges (user_id, bridge_type, status, room_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, bridge_type) DO UPDATE SET status = excluded.status, room_id = excluded.room_id`,
		br.UserID, string(br.Service), string(br.Status), string(br.RoomID))
	if err != nil {
		return fmt.Errorf("failed to upsert bridge: %w", err)
	}
	return nil
}

// DeleteBridge implements bridge.Repository.
func (s *Store) DeleteBridge(ctx context.Context, userID int64, svc bridge.Service) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bridges WHERE user_id = ? AND bridge_type = ?`, userID, string(svc))
	if err != nil {
		return fmt.Errorf("failed to delete bridge: %w", err)
	}
	return nil
}

// HasActiveBridges implements bridge.Repository.
func (s *Store) HasActiveBridges(ctx context.Context, userID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bridges WHERE user_id = ? AND status = ?`,
		userID, string(bridge.BridgeStatusConnected))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count bridges: %w", err)
	}
	return count > 0, nil
}

// PrioritySenders implements bridge.Repository.
func (s *Store) PrioritySenders(ctx context.Context, userID int64, svc bridge.Service) ([]bridge.PrioritySender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, COALESCE(noti_type, '') FROM priority_senders WHERE user_id = ? AND service = ?`,
		userID, string(svc))
	if err != nil {
		return nil, fmt.Errorf("failed to query priority senders: %w", err)
	}
	defer rows.Close()
	var senders []bridge.PrioritySender
	for rows.Next() {
		var sender, notiType string
		if err := rows.Scan(&sender, &notiType); err != nil {
			return nil, fmt.Errorf("failed to scan priority sender: %w", err)
		}
		senders = append(senders, bridge.PrioritySender{
			Sender:    sender,
			NotifyVia: bridge.NotifyVia(notiType),
		})
	}
	return senders, rows.Err()
}

// AddPrioritySender stores a priority sender for a user and service.
func (s *Store) AddPrioritySender(ctx context.Context, userID int64, svc bridge.Service, ps bridge.PrioritySender) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO priority_senders (user_id, service, sender, noti_type) VALUES (?, ?, ?, ?)`,
		userID, string(svc), ps.Sender, string(ps.NotifyVia))
	if err != nil {
		return fmt.Errorf("failed to add priority sender: %w", err)
	}
	return nil
}

// WaitingChecks implements bridge.Repository.
func (s *Store) WaitingChecks(ctx context.Context, userID int64, svc bridge.Service) ([]bridge.WaitingCheck, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, COALESCE(noti_type, '') FROM waiting_checks WHERE user_id = ? AND service = ?`,
		userID, string(svc))
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting checks: %w", err)
	}
	defer rows.Close()
	var checks []bridge.WaitingCheck
	for rows.Next() {
		var check bridge.WaitingCheck
		var notiType string
		if err := rows.Scan(&check.ID, &check.Content, &notiType); err != nil {
			return nil, fmt.Errorf("failed to scan waiting check: %w", err)
		}
		check.NotifyVia = bridge.NotifyVia(notiType)
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

// AddWaitingCheck stores a waiting check and returns its id.
func (s *Store) AddWaitingCheck(ctx context.Context, userID int64, svc bridge.Service, check bridge.WaitingCheck) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO waiting_checks (user_id, service, content, noti_type) VALUES (?, ?, ?, ?)`,
		userID, string(svc), check.Content, string(check.NotifyVia))
	if err != nil {
		return 0, fmt.Errorf("failed to add waiting check: %w", err)
	}
	return res.LastInsertId()
}

// DeleteWaitingCheck implements bridge.Repository.
func (s *Store) DeleteWaitingCheck(ctx context.Context, userID int64, checkID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM waiting_checks WHERE user_id = ? AND id = ?`, userID, checkID)
	if err != nil {
		return fmt.Errorf("failed to delete waiting check: %w", err)
	}
	return nil
}

// UserTimezone implements bridge.Repository.
func (s *Store) UserTimezone(ctx context.Context, userID int64) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT timezone FROM user_settings WHERE user_id = ?`, userID)
	var tz string
	if err := row.Scan(&tz); err != nil {
		if err == sql.ErrNoRows {
			return "UTC", nil
		}
		return "", fmt.Errorf("failed to query timezone: %w", err)
	}
	return tz, nil
}

// CriticalEnabled implements bridge.Repository.
func (s *Store) CriticalEnabled(ctx context.Context, userID int64) (*string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT critical_enabled FROM user_settings WHERE user_id = ?`, userID)
	var enabled sql.NullString
	if err := row.Scan(&enabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query critical setting: %w", err)
	}
	if !enabled.Valid {
		return nil, nil
	}
	return &enabled.String, nil
}

// ProactiveAgentOn implements bridge.Repository.
func (s *Store) ProactiveAgentOn(ctx context.Context, userID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT proactive_agent_on FROM user_settings WHERE user_id = ?`, userID)
	var on int
	if err := row.Scan(&on); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query proactive setting: %w", err)
	}
	return on != 0, nil
}

// SetUserSettings creates or replaces a user's settings row.
func (s *Store) SetUserSettings(ctx context.Context, userID int64, timezone string, proactiveOn bool, criticalEnabled *string) error {
	proactive := 0
	if proactiveOn {
		proactive = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, timezone, proactive_agent_on, critical_enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET timezone = excluded.timezone,
			proactive_agent_on = excluded.proactive_agent_on,
			critical_enabled = excluded.critical_enabled`,
		userID, timezone, proactive, criticalEnabled)
	if err != nil {
		return fmt.Errorf("failed to set user settings: %w", err)
	}
	return nil
}

// HasValidSubscriptionTier implements bridge.Repository.
func (s *Store) HasValidSubscriptionTier(ctx context.Context, userID int64, tier string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND tier = ? AND active = 1`,
		userID, tier)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query subscription: %w", err)
	}
	return count > 0, nil
}

// SetSubscription activates or deactivates a tier for a user.
func (s *Store) SetSubscription(ctx context.Context, userID int64, tier string, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, tier, active) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, tier) DO UPDATE SET active = excluded.active`,
		userID, tier, activeInt)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// MatrixAccounts lists every stored Matrix login.
func (s *Store) MatrixAccounts(ctx context.Context) ([]MatrixAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, mxid, access_token FROM matrix_accounts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query matrix accounts: %w", err)
	}
	defer rows.Close()
	var accounts []MatrixAccount
	for rows.Next() {
		var acct MatrixAccount
		if err := rows.Scan(&acct.UserID, &acct.MXID, &acct.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to scan matrix account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// SetMatrixAccount stores a user's Matrix login.
func (s *Store) SetMatrixAccount(ctx context.Context, acct MatrixAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matrix_accounts (user_id, mxid, access_token) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET mxid = excluded.mxid, access_token = excluded.access_token`,
		acct.UserID, acct.MXID, acct.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to set matrix account: %w", err)
	}
	return nil
}
