package report

import (
	"context"
	"fmt"
	"path/filepath"

	"repost-radar/internal/s3"
)

// Upload copies the report files to <prefix><channelID>/<name> and returns
// the object keys.
func Upload(ctx context.Context, client s3.Client, prefix, channelID string, files Files) ([]string, error) {
	var keys []string
	for _, p := range files.Paths() {
		key := prefix + channelID + "/" + filepath.Base(p)
		if err := client.PutFile(ctx, key, p, "text/csv"); err != nil {
			return keys, fmt.Errorf("upload %s: %w", p, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
