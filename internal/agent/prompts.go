package agent

import (
	"fmt"

	"github.com/haasonsaas/beacon/pkg/models"
)

// PromptModeKind selects the base system prompt for a turn.
type PromptModeKind string

const (
	ModeDefault    PromptModeKind = "default"
	ModeGameMaster PromptModeKind = "gm"
	ModePlayer     PromptModeKind = "player"
)

// PromptMode is the resolved prompt selection for one turn. It is computed
// once per platform event from channel settings and passed explicitly into
// the orchestrator, never held as shared state.
type PromptMode struct {
	Kind PromptModeKind

	// Context carries scenario text for the roleplay modes.
	Context string
}

// DefaultMode is the standard assistant prompt.
func DefaultMode() PromptMode {
	return PromptMode{Kind: ModeDefault}
}

// ModeFromSettings resolves the prompt mode from persisted channel settings.
// Unknown or empty modes fall back to the default.
func ModeFromSettings(settings *models.ChannelSettings) PromptMode {
	if settings == nil {
		return DefaultMode()
	}
	switch PromptModeKind(settings.PromptMode) {
	case ModeGameMaster:
		return PromptMode{Kind: ModeGameMaster, Context: settings.PromptContext}
	case ModePlayer:
		return PromptMode{Kind: ModePlayer, Context: settings.PromptContext}
	default:
		return DefaultMode()
	}
}

const defaultSystemPrompt = `You are Beacon, a helpful assistant in a group chat. Answer concisely and use the available tools when a question needs current information or external data. If a message is clearly not addressed to you and needs no reply, respond with exactly ` + NoResponseSentinel + `.`

const gameMasterPrompt = `You are the game master of an ongoing roleplay. Narrate the world, control non-player characters, and respond to player actions in character. Keep continuity with the scenario below.`

const playerPrompt = `You are a player character in an ongoing roleplay. Stay in character and act only for yourself. Keep continuity with the scenario below.`

// SystemPrompt renders the full system instruction for this mode.
func (m PromptMode) SystemPrompt() string {
	switch m.Kind {
	case ModeGameMaster:
		return fmt.Sprintf("%s\n\nScenario:\n%s", gameMasterPrompt, m.Context)
	case ModePlayer:
		return fmt.Sprintf("%s\n\nScenario:\n%s", playerPrompt, m.Context)
	default:
		return defaultSystemPrompt
	}
}
