// ABOUTME: Entry point for the lead-gateway server and its admin commands
// ABOUTME: Dispatches serve, token, seed and health subcommands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/salesgenio/lead-gateway/internal/config"
	"github.com/salesgenio/lead-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                _                    _
 | | ___  __ _  __| |   __ _  __ _  ___| |_ _____      ____ _ _   _
 | |/ _ \/ _' |/ _' |  / _' |/ _' |/ _ \ __/ _ \ \ /\ / / _' | | | |
 | |  __/ (_| | (_| | | (_| | (_| |  __/ ||  __/\ V  V / (_| | |_| |
 |_|\___|\__,_|\__,_|  \__, |\__,_|\___|\__\___| \_/\_/ \__,_|\__, |
                       |___/                                  |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LEAD_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/lead-gateway/config.yaml > ~/.config/lead-gateway/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LEAD_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "lead-gateway", "config.yaml")
}

func usage() {
	fmt.Println("Usage: lead-gateway <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  token --subject S [--org O] ...    Issue an API token")
	fmt.Println("  seed --file fixture.yaml           Load organizations, contacts and products")
	fmt.Println("  health                             Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "seed":
		err = runSeed(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.OpenAI.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Qualify:   %s\n", cfg.Qualification.Mode)
	green.Print("    ▶ ")
	fmt.Printf("WhatsApp:  ")
	if cfg.WhatsApp.Enabled {
		cyan.Println(cfg.WhatsApp.PhoneNumberID)
	} else {
		gray.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API disabled: auth.jwt_secret not set")
	}
	fmt.Println()

	logger.Info("starting lead-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.OpenAI.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
