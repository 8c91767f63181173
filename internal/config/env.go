package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// envFiles in precedence order. godotenv never overrides a variable that is
// already set, so earlier files win over later ones.
var envFiles = []string{".env.local", ".env"}

// loadEnvFile loads variables from every one of .env.local and .env that
// exists. Variables already present in the process environment win.
func loadEnvFile() error {
	var present []string
	for _, path := range envFiles {
		if _, err := os.Stat(path); err == nil {
			present = append(present, path)
		}
	}
	if len(present) == 0 {
		return errors.New("no .env file found")
	}
	if err := godotenv.Load(present...); err != nil {
		return err
	}
	slog.Debug("Loaded environment variables", "paths", present)
	return nil
}
