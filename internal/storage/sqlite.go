package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/worldmodel"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore is the durable Store backend (AGENT_WORLD_STORAGE_TYPE=sqlite),
// grounded on hector's pkg/config.DatabaseConfig connection-setup
// pattern (driver normalization "sqlite"->"sqlite3" via go-sqlite3), with
// schema versioning added via golang-migrate.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// OpenSQLiteStore opens (creating if absent) a sqlite database at path
// and applies pending migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger.For("storage.sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, worldID string, agent AgentRecord) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (world_id, agent_id, data) VALUES (?, ?, ?)
		ON CONFLICT(world_id, agent_id) DO UPDATE SET data = excluded.data`,
		worldID, agent.ID, data)
	if err != nil {
		s.log.Warn("save agent failed", "world_id", worldID, "agent_id", agent.ID, "error", err)
	}
	return err
}

func (s *SQLiteStore) LoadAgent(ctx context.Context, worldID, agentID string) (AgentRecord, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM agents WHERE world_id = ? AND agent_id = ?`, worldID, agentID).Scan(&data)
	if err == sql.ErrNoRows {
		return AgentRecord{}, false, nil
	}
	if err != nil {
		return AgentRecord{}, false, err
	}
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return AgentRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, worldID string) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM agents WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgentRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec AgentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE world_id = ? AND agent_id = ?`, worldID, agentID)
	return err
}

func (s *SQLiteStore) SaveWorld(ctx context.Context, world WorldRecord) error {
	data, err := json.Marshal(world)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worlds (world_id, data) VALUES (?, ?)
		ON CONFLICT(world_id) DO UPDATE SET data = excluded.data`, world.ID, data)
	return err
}

func (s *SQLiteStore) LoadWorld(ctx context.Context, worldID string) (WorldRecord, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM worlds WHERE world_id = ?`, worldID).Scan(&data)
	if err == sql.ErrNoRows {
		return WorldRecord{}, false, nil
	}
	if err != nil {
		return WorldRecord{}, false, err
	}
	var rec WorldRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return WorldRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListWorlds(ctx context.Context) ([]WorldRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM worlds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorldRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec WorldRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWorld(ctx context.Context, worldID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worlds WHERE world_id = ?`, worldID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM agents WHERE world_id = ?`, worldID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM chats WHERE world_id = ?`, worldID)
	return err
}

func (s *SQLiteStore) SaveChatData(ctx context.Context, worldID string, chat worldmodel.ChatMeta) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (world_id, chat_id, data) VALUES (?, ?, ?)
		ON CONFLICT(world_id, chat_id) DO UPDATE SET data = excluded.data`,
		worldID, chat.ID, data)
	return err
}

func (s *SQLiteStore) UpdateChatData(ctx context.Context, worldID, chatID string, patch ChatPatch) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chats WHERE world_id = ? AND chat_id = ?`, worldID, chatID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	var chat worldmodel.ChatMeta
	if err := json.Unmarshal(data, &chat); err != nil {
		return err
	}
	if patch.Name != nil {
		chat.Name = *patch.Name
	}
	if patch.Description != nil {
		chat.Description = *patch.Description
	}
	return s.SaveChatData(ctx, worldID, chat)
}

func (s *SQLiteStore) ListChats(ctx context.Context, worldID string) ([]worldmodel.ChatMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM chats WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []worldmodel.ChatMeta
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec worldmodel.ChatMeta
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE world_id = ? AND chat_id = ?`, worldID, chatID)
	return err
}

func (s *SQLiteStore) GetMemory(ctx context.Context, worldID, chatID string) ([]worldmodel.AgentMessage, error) {
	agents, err := s.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	var out []worldmodel.AgentMessage
	for _, a := range agents {
		for _, m := range a.Memory {
			if m.ChatID == chatID {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, event EventRecord) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (world_id, channel, chat_id, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
		event.WorldID, event.Channel, event.ChatID, event.Timestamp, data)
	if err != nil {
		s.log.Warn("save event failed", "channel", event.Channel, "error", err)
	}
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
