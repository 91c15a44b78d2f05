package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

var errNotReady = errors.New("gateway session is not ready")

// NewSession creates a bot session with the intents needed to read
// commands and attachments from guild messages.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	s.StateEnabled = true
	return s, nil
}
