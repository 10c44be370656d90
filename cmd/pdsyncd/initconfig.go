package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MiMillieuh/proton-drive-sync/internal/config"
	"github.com/MiMillieuh/proton-drive-sync/internal/paths"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config <local-dir>",
	Short: "Write a starter configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		localDir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if info, err := os.Stat(localDir); err != nil || !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}

		configPath, err := paths.ConfigFilePath()
		if err != nil {
			return err
		}
		if err := config.WriteDefault(configPath, localDir); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		fmt.Println("Edit remote_root and sync_dirs to taste, then run: pdsyncd run")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
