package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentworld/core/internal/worldmodel"
)

// FileStore persists each world as a JSON file under baseDir
// (AGENT_WORLD_STORAGE_TYPE=file). Simpler than sqlite, no migrations,
// whole-world rewrite on every save — adequate for single-operator or
// development deployments.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

type fileWorldDoc struct {
	World  WorldRecord                     `json:"world"`
	Agents map[string]AgentRecord          `json:"agents"`
	Chats  map[string]worldmodel.ChatMeta  `json:"chats"`
	Events []EventRecord                   `json:"events,omitempty"`
}

// NewFileStore ensures baseDir exists and returns a FileStore rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(worldID string) string {
	return filepath.Join(s.baseDir, worldID+".json")
}

func (s *FileStore) load(worldID string) (fileWorldDoc, error) {
	doc := fileWorldDoc{Agents: map[string]AgentRecord{}, Chats: map[string]worldmodel.ChatMeta{}}
	data, err := os.ReadFile(s.path(worldID))
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	if doc.Agents == nil {
		doc.Agents = map[string]AgentRecord{}
	}
	if doc.Chats == nil {
		doc.Chats = map[string]worldmodel.ChatMeta{}
	}
	return doc, nil
}

func (s *FileStore) save(worldID string, doc fileWorldDoc) error {
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return err
	}
	tmp := s.path(worldID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(worldID))
}

func (s *FileStore) SaveAgent(_ context.Context, worldID string, agent AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return err
	}
	doc.World.ID = worldID
	doc.Agents[agent.ID] = agent
	return s.save(worldID, doc)
}

func (s *FileStore) LoadAgent(_ context.Context, worldID, agentID string) (AgentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return AgentRecord{}, false, err
	}
	a, ok := doc.Agents[agentID]
	return a, ok, nil
}

func (s *FileStore) ListAgents(_ context.Context, worldID string) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, 0, len(doc.Agents))
	for _, a := range doc.Agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *FileStore) DeleteAgent(_ context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return err
	}
	delete(doc.Agents, agentID)
	return s.save(worldID, doc)
}

func (s *FileStore) SaveWorld(_ context.Context, world WorldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(world.ID)
	if err != nil {
		return err
	}
	doc.World = world
	return s.save(world.ID, doc)
}

func (s *FileStore) LoadWorld(_ context.Context, worldID string) (WorldRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(worldID)); os.IsNotExist(err) {
		return WorldRecord{}, false, nil
	}
	doc, err := s.load(worldID)
	if err != nil {
		return WorldRecord{}, false, err
	}
	return doc.World, true, nil
}

func (s *FileStore) ListWorlds(_ context.Context) ([]WorldRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var out []WorldRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		worldID := e.Name()[:len(e.Name())-len(".json")]
		doc, err := s.load(worldID)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.World)
	}
	return out, nil
}

func (s *FileStore) DeleteWorld(_ context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(worldID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) SaveChatData(_ context.Context, worldID string, chat worldmodel.ChatMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return err
	}
	doc.Chats[chat.ID] = chat
	return s.save(worldID, doc)
}

func (s *FileStore) UpdateChatData(_ context.Context, worldID, chatID string, patch ChatPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return err
	}
	chat, ok := doc.Chats[chatID]
	if !ok {
		return nil
	}
	if patch.Name != nil {
		chat.Name = *patch.Name
	}
	if patch.Description != nil {
		chat.Description = *patch.Description
	}
	doc.Chats[chatID] = chat
	return s.save(worldID, doc)
}

func (s *FileStore) ListChats(_ context.Context, worldID string) ([]worldmodel.ChatMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return nil, err
	}
	out := make([]worldmodel.ChatMeta, 0, len(doc.Chats))
	for _, c := range doc.Chats {
		out = append(out, c)
	}
	return out, nil
}

func (s *FileStore) DeleteChat(_ context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return err
	}
	delete(doc.Chats, chatID)
	return s.save(worldID, doc)
}

func (s *FileStore) GetMemory(_ context.Context, worldID, chatID string) ([]worldmodel.AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(worldID)
	if err != nil {
		return nil, err
	}
	var out []worldmodel.AgentMessage
	for _, a := range doc.Agents {
		for _, m := range a.Memory {
			if m.ChatID == chatID {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *FileStore) SaveEvent(_ context.Context, event EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(event.WorldID)
	if err != nil {
		return err
	}
	doc.Events = append(doc.Events, event)
	if len(doc.Events) > 1000 {
		doc.Events = doc.Events[len(doc.Events)-1000:]
	}
	return s.save(event.WorldID, doc)
}

func (s *FileStore) Close() error { return nil }
