package bot

import (
	"fmt"
	"strings"

	"repost-radar/internal/model"
	"repost-radar/internal/store"
)

type command struct {
	name string
	args []string
}

// parseCommand splits "!check 123 partial" into its name and arguments.
// Names are case-insensitive.
func parseCommand(prefix, content string) (command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return command{}, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

// channelArg returns the validated channel id argument of c.
func (c command) channelArg(prefix string) (string, error) {
	if len(c.args) == 0 {
		return "", model.InvalidInput("usage: %s%s <channel_id>", prefix, c.name)
	}
	id := c.args[0]
	if err := store.CheckChannelID(id); err != nil {
		return "", model.InvalidInput("invalid channel ID %q, it must be numeric", id)
	}
	return id, nil
}

func (c command) partial() bool {
	return len(c.args) > 1 && strings.EqualFold(c.args[1], "partial")
}

func helpText(p string) string {
	return fmt.Sprintf(`**Repost detection commands**
%[1]scheck <forum_id> [partial] - scan every post of a forum and report duplicates. With "partial", a stopped scan still reports what it saw.
%[1]shash <channel_id> - build and store the hash database of a channel or forum
%[1]sreport <channel_id> - generate reports from the stored hash database
%[1]sstop [run_id|channel_id] - stop a running scan (all scans when no argument)
%[1]sstatus - running scans and resource usage
%[1]scheckperms <channel_id> - check the bot's permissions in a channel
%[1]serrors - download errors.log
%[1]shelp - this message`, p)
}

// describeError turns a failure into the text shown to the user.
func describeError(err error) string {
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		return "❌ " + strings.TrimPrefix(err.Error(), model.KindInvalidInput.String()+": ")
	case model.KindPermissionDenied:
		return "❌ I don't have permission to read that channel. Try the checkperms command."
	case model.KindNotFound:
		return "❌ Not found: " + err.Error()
	case model.KindCorrupted:
		return "❌ The stored hash database is corrupted. Rebuild it with the hash command."
	case model.KindReport:
		return "❌ The scan finished but the reports could not be written: " + err.Error()
	case model.KindCancelled:
		return "⏹ Stopped."
	default:
		return "❌ Error: " + err.Error()
	}
}
