// Azure OpenAI Relay
//
// This application serves as a proxy between client applications and an
// Azure OpenAI chat-completion deployment. It authenticates to Azure with
// service-principal credentials, forwards chat transcripts upstream, streams
// incremental tokens back to callers, and keeps per-session conversation
// history in memory so follow-up requests continue the same conversation.
//
// CLI Usage:
//
//	The application supports the following command-line flags:
//
//	--check
//	  Sends a minimal test completion upstream to verify the endpoint and
//	  credentials, prints the result, and exits.
//	  Example: ./relay --check
//
//	--addr=":8899"
//	  Overrides the listen address from the environment.
//
// Environment Variables:
//   - AZURE_TENANT_ID: Azure AD tenant of the service principal
//   - AZURE_CLIENT_ID: Application (client) ID of the service principal
//   - AZURE_CLIENT_SECRET: Client secret of the service principal
//   - AZURE_OPENAI_ENDPOINT: Azure OpenAI resource endpoint URL
//   - AZURE_OPENAI_API_VERSION: API version (default "2023-12-01-preview")
//   - AZURE_TOKEN_SCOPE: OAuth2 scope for the credential exchange
//   - DEFAULT_MODEL: Deployment used when a request names no model
//   - PORT: HTTP listen port (default 8899)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"azure-openai-relay/internal/app"
	"azure-openai-relay/internal/config"
)

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory.
func loadEnvFile() {
	// Try current directory first
	err := godotenv.Load()
	if err == nil {
		log.Println("Loaded environment variables from .env file in current directory")
		return
	}

	// Get the current working directory
	workDir, err := os.Getwd()
	if err != nil {
		log.Printf("Warning: Could not determine current directory: %v", err)
		return
	}

	// Try parent directories recursively
	for dir := workDir; dir != "/"; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			err = godotenv.Load(envPath)
			if err == nil {
				log.Printf("Loaded environment variables from %s", envPath)
				return
			}
		}
	}

	log.Println("No .env file found. Using existing environment variables.")
}

func runCheck(a *app.App, cfg *config.Config) {
	log.Printf("Sending test completion to %s (model %s)...", cfg.Endpoint, cfg.DefaultModel)

	response, err := a.Client.Ping(context.Background(), cfg.DefaultModel)
	if err != nil {
		log.Fatalf("Check failed: %v", err)
	}

	fmt.Println("Check succeeded. Response from Azure OpenAI:")
	fmt.Println(response)
}

func main() {
	// Load environment variables from .env file
	loadEnvFile()

	check := flag.Bool("check", false, "Send a test completion upstream, print the result, and exit")
	addr := flag.String("addr", "", "Listen address override (e.g. \":8899\")")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	a := app.New(cfg)

	if *check {
		runCheck(a, cfg)
		return
	}

	// Create a context that will be canceled on program termination
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: a.Router,
	}

	// Start the server in a goroutine
	go func() {
		log.Printf("Starting relay on %s (upstream %s)...", cfg.Addr, cfg.Endpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Create a deadline for server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	} else {
		log.Println("Server gracefully stopped")
	}
}
