package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"repost-radar/internal"
	"repost-radar/internal/logging"
	"repost-radar/internal/s3"
	"repost-radar/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "hashtool",
	Short: "Offline tools for repost-radar hash tables and reports",
	Long: `hashtool works on the hash tables the bot persists: compare two images the
way the bot does, inspect or report on a stored table, and copy tables between
the local hash directory and S3.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stores opens the configured hash store plus, when S3 is configured, both
// concrete stores for sync.
type stores struct {
	cfg    internal.Config
	active store.Store
	file   *store.FileStore
	remote *store.S3Store
	log    *logging.Logger
}

func openStores() (*stores, error) {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New("hashtool-errors.log", cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	st := &stores{cfg: cfg, file: store.NewFileStore(cfg.HashDir), log: log}
	st.active = st.file
	if cfg.HasS3() {
		client, err := s3.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		st.remote = store.NewS3Store(client, cfg.S3HashPrefix)
		if cfg.HashStore == "s3" {
			st.active = st.remote
		}
	}
	return st, nil
}

func (s *stores) Close() { _ = s.log.Close() }
