package storage

import (
	"context"
	"sync"

	"github.com/agentworld/core/internal/worldmodel"
)

// MemoryStore is an in-process, non-durable Store backend
// (AGENT_WORLD_STORAGE_TYPE=memory) — the default for tests and for
// ephemeral worlds.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]map[string]AgentRecord
	worlds map[string]WorldRecord
	chats  map[string]map[string]worldmodel.ChatMeta
	events []EventRecord
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: map[string]map[string]AgentRecord{},
		worlds: map[string]WorldRecord{},
		chats:  map[string]map[string]worldmodel.ChatMeta{},
	}
}

func (s *MemoryStore) SaveAgent(_ context.Context, worldID string, agent AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[worldID] == nil {
		s.agents[worldID] = map[string]AgentRecord{}
	}
	s.agents[worldID][agent.ID] = agent
	return nil
}

func (s *MemoryStore) LoadAgent(_ context.Context, worldID, agentID string) (AgentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[worldID][agentID]
	return a, ok, nil
}

func (s *MemoryStore) ListAgents(_ context.Context, worldID string) ([]AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentRecord, 0, len(s.agents[worldID]))
	for _, a := range s.agents[worldID] {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents[worldID], agentID)
	return nil
}

func (s *MemoryStore) SaveWorld(_ context.Context, world WorldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[world.ID] = world
	return nil
}

func (s *MemoryStore) LoadWorld(_ context.Context, worldID string) (WorldRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[worldID]
	return w, ok, nil
}

func (s *MemoryStore) ListWorlds(_ context.Context) ([]WorldRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorldRecord, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorld(_ context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.worlds, worldID)
	delete(s.agents, worldID)
	delete(s.chats, worldID)
	return nil
}

func (s *MemoryStore) SaveChatData(_ context.Context, worldID string, chat worldmodel.ChatMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats[worldID] == nil {
		s.chats[worldID] = map[string]worldmodel.ChatMeta{}
	}
	s.chats[worldID][chat.ID] = chat
	return nil
}

func (s *MemoryStore) UpdateChatData(_ context.Context, worldID, chatID string, patch ChatPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[worldID][chatID]
	if !ok {
		return nil
	}
	if patch.Name != nil {
		chat.Name = *patch.Name
	}
	if patch.Description != nil {
		chat.Description = *patch.Description
	}
	s.chats[worldID][chatID] = chat
	return nil
}

func (s *MemoryStore) ListChats(_ context.Context, worldID string) ([]worldmodel.ChatMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]worldmodel.ChatMeta, 0, len(s.chats[worldID]))
	for _, c := range s.chats[worldID] {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats[worldID], chatID)
	return nil
}

func (s *MemoryStore) GetMemory(_ context.Context, worldID, chatID string) ([]worldmodel.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []worldmodel.AgentMessage
	for _, agent := range s.agents[worldID] {
		for _, m := range agent.Memory {
			if m.ChatID == chatID {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveEvent(_ context.Context, event EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
