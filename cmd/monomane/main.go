package main

import (
	"fmt"
	"os"

	"github.com/oqilov/monomane/common/environment"
	"github.com/oqilov/monomane/common/version"
	"github.com/oqilov/monomane/internal/monomane/app"
	"github.com/oqilov/monomane/internal/monomane/gen"
	"github.com/oqilov/monomane/internal/monomane/matrix"
)

func main() {
	fmt.Printf("Monomane Reply Engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// Load configuration from environment
	config := loadConfig()

	// Validate required configuration
	if config.Matrix.Homeserver == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_HOMESERVER is required\n")
		os.Exit(1)
	}
	if config.Matrix.UserID == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_USER_ID is required\n")
		os.Exit(1)
	}
	if config.Matrix.AccessToken == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_ACCESS_TOKEN is required\n")
		os.Exit(1)
	}
	if config.Gemini.APIKey == "" {
		fmt.Fprintf(os.Stderr, "Error: GEMINI_API_KEY is required\n")
		os.Exit(1)
	}

	// Create application
	monomane, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Monomane: %v\n", err)
		os.Exit(1)
	}
	defer monomane.Stop()

	// Run application
	if err := monomane.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Monomane: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables. Durations accept
// Go syntax ("3s", "15s"); invalid values fall back to the package defaults.
func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./monomane.db"),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
		},
		Gemini: gen.GeminiConfig{
			APIKey: environment.StringOr("GEMINI_API_KEY", ""),
			// GEMINI_BASE_URL wins over GEMINI_MODEL when both are set.
			BaseURL: environment.StringOr("GEMINI_BASE_URL",
				gen.ModelURL(environment.StringOr("GEMINI_MODEL", gen.DefaultModel))),
			Timeout: environment.DurationOr("GEMINI_TIMEOUT", 0),
		},
		PersonaPath:    environment.StringOr("PERSONA_PATH", "./persona.yaml"),
		CooldownWindow: environment.DurationOr("COOLDOWN_WINDOW", 0),
		SearchDeadline: environment.DurationOr("SEARCH_DEADLINE", 0),
	}
}
