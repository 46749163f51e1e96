package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"somas/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the layout cache",
}

var cacheConfigPath string

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheConfigPath, "config", "", "path to somas.toml")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
}

func cacheDirFromConfig() (string, error) {
	var (
		cfg config.Config
		err error
	)
	if cacheConfigPath != "" {
		cfg, err = config.Load(cacheConfigPath)
	} else {
		cfg, err = config.Load(config.FileName)
	}
	if err != nil {
		return "", err
	}
	if cfg.Cache.Dir == "" {
		return "", fmt.Errorf("no cache directory configured (set [cache].dir in %s)", config.FileName)
	}
	return cfg.Cache.Dir, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached layouts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cacheDirFromConfig()
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, "somas_graph_") || !strings.HasSuffix(name, ".json") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n",
				strings.TrimSuffix(name, ".json"), info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all cached layouts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cacheDirFromConfig()
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		removed := 0
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, "somas_graph_") {
				continue
			}
			if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".info") {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
			removed++
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache files\n", removed)
		}
		return nil
	},
}
