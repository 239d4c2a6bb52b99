package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/flightdeck/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Flightdeck configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	// Warn about keys that the config struct does not know about.
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
		return nil
	}
	if len(unknownKeys) > 0 {
		yellow := color.New(color.FgYellow, color.Bold)
		yellow.Fprintf(os.Stdout, "Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			yellow.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "These keys will be ignored and may indicate typos or deprecated settings.")
	}

	fmt.Fprintf(os.Stdout, "Server: %s:%d (metrics :%d)\n", cfg.Server.BindAddress, cfg.Server.HTTPPort, cfg.Server.MetricsPort)
	fmt.Fprintf(os.Stdout, "State store: %s\n", cfg.Storage.State.Type)

	return nil
}

// findUnknownKeys compares the keys in the config file against the keys the
// application defines defaults for.
func findUnknownKeys(path string) ([]string, error) {
	raw := viper.New()
	raw.SetConfigFile(path)
	if err := raw.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	config.SetDefaultsForDump(known)
	knownKeys := make(map[string]bool)
	for _, key := range known.AllKeys() {
		knownKeys[key] = true
	}

	var unknown []string
	for _, key := range raw.AllKeys() {
		if !knownKeys[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}
