/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/healwise/apiserver/internal/profiles"
	"github.com/healwise/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

var (
	profilesBackend string
	profilesKey     string
)

// profilesCmd groups commands for the role profile dataset.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage the role profile dataset",
}

var profilesUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Validate a profiles JSON file and upload it to object storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ds, err := profiles.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("invalid profiles file: %w", err)
		}

		backend := profilesBackend
		if backend == "" {
			backend = cfg.Profiles.Source
		}
		key := profilesKey
		if key == "" {
			key = cfg.Profiles.ObjectKey
		}
		backend = strings.ToLower(strings.TrimSpace(backend))
		if backend != "minio" && backend != "gcs" {
			return fmt.Errorf("--backend must be minio or gcs, got %q", backend)
		}

		objects, err := storage.Open(cmd.Context(), backend, cfg)
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(cmd.Context()); err != nil {
			return err
		}
		if err := objects.PutBytes(cmd.Context(), key, data, "application/json"); err != nil {
			return err
		}
		slog.Info("profiles uploaded", "backend", backend, "bucket", objects.Bucket(), "key", key, "profiles", ds.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesUploadCmd)

	profilesUploadCmd.Flags().StringVar(&profilesBackend, "backend", "", "object storage backend: minio or gcs (defaults to PROFILES_SOURCE)")
	profilesUploadCmd.Flags().StringVar(&profilesKey, "key", "", "object key (defaults to PROFILES_OBJECT_KEY)")
}
