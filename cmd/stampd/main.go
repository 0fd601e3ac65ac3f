package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagOpen       bool
	flagVerbose    bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file to load, default is stampd.yaml in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	serveCmd.Flags().BoolVar(&flagOpen, "open", false, "open the web studio in a browser after start")

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("stampd failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "stampd",
	Short:        "Batch image watermarking service with a web studio",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("stampd: version info not available")
			return
		}
		fmt.Printf("stampd: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			}
		}
	},
}
