// ABOUTME: Entry point for the chatmarket server CLI
// ABOUTME: Provides serve and health commands over the gateway

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/marksk1/chatmarket-mvp/internal/config"
	"github.com/marksk1/chatmarket-mvp/internal/gateway"
)

// version is set at build time.
var version = "dev"

const banner = `
      _           _                        _        _
  ___| |__   __ _| |_ _ __ ___   __ _ _ __| | _____| |_
 / __| '_ \ / _' | __| '_ ' _ \ / _' | '__| |/ / _ \ __|
| (__| | | | (_| | |_| | | | | | (_| | |  |   <  __/ |_
 \___|_| |_|\__,_|\__|_| |_| |_|\__,_|_|  |_|\_\___|\__|
`

var (
	configPath string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:           "chatmarket",
	Short:         "Conversational marketplace server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatmarket server",
	Long: `Start the HTTP server with every marketplace agent registered on the bus.

The config file is read from --config, $CHATMARKET_CONFIG, or
$XDG_CONFIG_HOME/chatmarket/config.yaml. With --offline no file is read and
the server runs on in-memory storage with every language call falling back.`,
	RunE: runServe,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running server's health",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CHATMARKET_CONFIG or XDG path)")
	serveCmd.Flags().BoolVar(&offline, "offline", false, "Run without a config file using in-memory storage and no external services")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	if offline {
		return config.Default(), "(offline defaults)", nil
	}
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s %s\n", cfg.Database.Driver, cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("LLM:      %s", cfg.LLM.Provider)
	if cfg.LLM.Provider == "mock" {
		yellow.Print(" [fallbacks only]")
	}
	fmt.Println()
	if cfg.MarketSearch.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Market search enabled")
	}
	fmt.Println()

	logger.Info("starting chatmarket",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
