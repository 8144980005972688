package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/observe.md
var DefaultObservePrompt string

// EnsurePrompt writes the default observation prompt to path unless a file already exists there.
func EnsurePrompt(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(DefaultObservePrompt), 0o644)
}

// LoadPrompt reads the prompt at path, falling back to the embedded default when the file is
// missing.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultObservePrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return DefaultObservePrompt, nil
	}
	return prompt, nil
}
