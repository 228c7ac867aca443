package orchestrator

import (
	"strconv"
	"strings"

	"github.com/agentworld/core/internal/worldmodel"
)

const turnLimitContentMarker = "Turn limit reached"

// ShouldRespond decides whether agent should process event: turn-limit
// and sender checks first, then @mention routing for human senders.
func (rt *Runtime) ShouldRespond(world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) bool {
	if event.Sender == agent.ID {
		return false
	}
	if strings.Contains(event.Content, turnLimitContentMarker) {
		return false
	}
	if agent.LLMCallCount >= world.TurnLimit {
		rt.publishTurnLimitNotice(world, agent, event)
		return false
	}
	if event.Sender == "system" {
		return false
	}
	if event.Sender == "world" {
		return true
	}

	anyMentions := extractMentions(event.Content)
	leading := paragraphBeginMentions(event.Content)

	if isHumanSender(event.Sender) {
		if len(leading) == 0 && len(anyMentions) > 0 {
			return false
		}
		if len(leading) == 0 {
			return true // broadcast
		}
		return containsFold(leading, agent.ID)
	}

	return containsFold(leading, agent.ID)
}

func isHumanSender(sender string) bool {
	return strings.EqualFold(sender, "human") || strings.HasPrefix(strings.ToLower(sender), "user")
}

func containsFold(names []string, target string) bool {
	for _, n := range names {
		if strings.EqualFold(n, target) {
			return true
		}
	}
	return false
}

func (rt *Runtime) publishTurnLimitNotice(world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) {
	if event.ChatID == "" && world.CurrentChatID == "" {
		return // "only when a chat context exists"
	}
	if rt.Metrics != nil {
		rt.Metrics.TurnLimitHits.Inc()
	}
	content := formatTurnLimitMessage(world.TurnLimit)
	rt.PublishMessage(world, content, agent.ID, event.ChatID, "")
}

func formatTurnLimitMessage(turnLimit int) string {
	return "@human Turn limit reached (" + strconv.Itoa(turnLimit) + " LLM calls). Please take control of the conversation."
}

// PrepareMessages builds the LLM message list for agent: a system
// prompt followed by its chat history.
func (rt *Runtime) PrepareMessages(world *worldmodel.World, agent *worldmodel.Agent, chatID string) []llmMessage {
	out := []llmMessage{{Role: "system", Content: agent.SystemPrompt}}
	for _, m := range agent.MemoryForChat(chatID) {
		out = append(out, toLLMMessage(m))
	}
	return out
}
