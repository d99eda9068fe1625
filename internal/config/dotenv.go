package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads every existing file in paths into the process
// environment. Missing files are skipped and variables already present in
// the environment are never overridden.
func LoadDotEnv(paths []string) ([]string, error) {
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat env file %q: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load env file %q: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
