// ABOUTME: Console client for talking to a contact's conversation through the HTTP API
// ABOUTME: Line-based input with /use, /history and /reset commands and JWT auth

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

// getToken returns the JWT from LEAD_GATEWAY_TOKEN or ~/.config/lead-gateway/token.
func getToken() string {
	if token := os.Getenv("LEAD_GATEWAY_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "lead-gateway", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Gateway server URL")
	contact := flag.String("contact", "", "Contact id to talk as")
	flag.Parse()

	token := getToken()
	fmt.Printf("lead-chat connected to %s\n", *server)
	if token != "" {
		fmt.Println("Auth: JWT token configured (LEAD_GATEWAY_TOKEN)")
	} else {
		fmt.Println("Auth: none (set LEAD_GATEWAY_TOKEN or run `lead-gateway token`)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := &session{
		api:       newAPIClient(*server, token),
		contactID: *contact,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	if err := s.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}
