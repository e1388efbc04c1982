package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine/cache"
)

// newCacheCmd creates the cache command group for the suggestion list cache.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Manage the suggestion list cache"}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd(), newCachePruneCmd())
	return cmd
}

func openCache() (*cache.FileStore, error) {
	cfg := config.GetGlobalConfig()
	store, err := cache.NewFileStore(cfg.Cache.Directory, cfg.Cache.Enabled, cfg.Cache.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// disabledNotice prints a hint and swallows ErrCacheDisabled.
func disabledNotice(cmd *cobra.Command, err error) error {
	if errors.Is(err, cache.ErrCacheDisabled) {
		cmd.Println("Cache is disabled.")
		return nil
	}
	return err
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache location, size and TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			st, err := store.Stats()
			if err != nil {
				return disabledNotice(cmd, err)
			}
			p := message.NewPrinter(language.English)
			_, _ = p.Fprintf(cmd.OutOrStdout(), "Directory: %s\nEntries:   %d\nSize:      %d bytes\nTTL:       %s\n",
				st.Directory, st.Entries, st.Bytes, cache.FormatDuration(store.TTL()))
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached suggestion list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			if err = store.Clear(); err != nil {
				return disabledNotice(cmd, err)
			}
			cmd.Println("Cache cleared.")
			return nil
		},
	}
}

func newCachePruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache()
			if err != nil {
				return err
			}
			removed, err := store.CleanupExpired()
			if err != nil {
				return disabledNotice(cmd, err)
			}
			cmd.Printf("Removed %d expired entries.\n", removed)
			return nil
		},
	}
}
