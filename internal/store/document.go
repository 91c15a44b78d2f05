package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/tidwall/gjson"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
)

const documentVersion = 1

var channelIDPattern = regexp.MustCompile(`^\d+$`)

// document is the persisted form of one channel's index. Entries keep
// insertion order so a reload reproduces the same stored originals.
type document struct {
	Version   int            `json:"version"`
	ChannelID string         `json:"channelId"`
	UpdatedAt int64          `json:"updatedAt"`
	Hashes    []hashdb.Entry `json:"hashes"`
}

func encode(channelID string, ix *hashdb.Index, now time.Time) ([]byte, error) {
	doc := document{
		Version:   documentVersion,
		ChannelID: channelID,
		UpdatedAt: now.UnixMilli(),
		Hashes:    ix.Entries(),
	}
	return json.Marshal(doc)
}

func decode(channelID string, data []byte) (*hashdb.Index, error) {
	const op = "decode hash table"
	if !gjson.ValidBytes(data) {
		return nil, model.NewError(model.KindCorrupted, op, fmt.Errorf("channel %s: invalid JSON", channelID))
	}
	if v := gjson.GetBytes(data, "version"); !v.Exists() || v.Int() != documentVersion {
		return nil, model.NewError(model.KindCorrupted, op, fmt.Errorf("channel %s: unsupported version %q", channelID, v.Raw))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, model.NewError(model.KindCorrupted, op, err)
	}
	for i, e := range doc.Hashes {
		if e.Hash == "" || e.Record.Original.MessageID == "" {
			return nil, model.NewError(model.KindCorrupted, op, fmt.Errorf("channel %s: entry %d is incomplete", channelID, i))
		}
	}
	return hashdb.FromEntries(doc.Hashes), nil
}

// Inspect summarises a stored document without building an index.
func Inspect(data []byte) (channelID string, updatedAt time.Time, hashes int, err error) {
	if !gjson.ValidBytes(data) {
		return "", time.Time{}, 0, model.NewError(model.KindCorrupted, "inspect", fmt.Errorf("invalid JSON"))
	}
	res := gjson.GetManyBytes(data, "channelId", "updatedAt", "hashes.#")
	return res[0].String(), time.UnixMilli(res[1].Int()).UTC(), int(res[2].Int()), nil
}

// CheckChannelID rejects anything that is not a numeric snowflake.
func CheckChannelID(channelID string) error {
	if !channelIDPattern.MatchString(channelID) {
		return model.InvalidInput("invalid channel id %q", channelID)
	}
	return nil
}
