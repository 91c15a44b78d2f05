package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

type permission struct {
	bit  int64
	name string
}

// RequiredPermissions are what the bot needs in every channel it walks or
// answers in.
var requiredPermissions = []permission{
	{discordgo.PermissionViewChannel, "View Channel"},
	{discordgo.PermissionSendMessages, "Send Messages"},
	{discordgo.PermissionReadMessageHistory, "Read Message History"},
	{discordgo.PermissionAttachFiles, "Attach Files"},
	{discordgo.PermissionEmbedLinks, "Embed Links"},
}

// MissingPermissions returns the names of required permissions the bot
// lacks in channelID.
func (src *Source) MissingPermissions(ctx context.Context, channelID string) ([]string, error) {
	if src.s.State == nil || src.s.State.User == nil {
		return nil, classify(ctx, "check permissions", errNotReady)
	}
	perms, err := src.s.UserChannelPermissions(src.s.State.User.ID, channelID)
	if err != nil {
		return nil, classify(ctx, "check permissions in "+channelID, err)
	}
	return missing(perms), nil
}

func missing(perms int64) []string {
	if perms&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var out []string
	for _, p := range requiredPermissions {
		if perms&p.bit == 0 {
			out = append(out, p.name)
		}
	}
	return out
}
