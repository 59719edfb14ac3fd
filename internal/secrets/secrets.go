// Package secrets resolves credentials from secret files (Docker or
// Kubernetes mounts) or from ${VAR} references to environment variables.
// Secret values are never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdetect/markdetect-go/internal/errors"
	"github.com/markdetect/markdetect-go/internal/logger"
)

// maxSecretFileSize limits secret file reads; secrets are tokens and passwords.
const maxSecretFileSize = 64 * 1024

func configError(err error, path string) error {
	b := errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration)
	if path != "" {
		b = b.Context("path", path)
	}
	return b.Build()
}

// ExpandString resolves ${VAR} and ${VAR:-default} references in s.
// A referenced variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missingVars []string
	expanded := os.Expand(s, func(key string) string {
		varName, defaultValue, fallbackProvided := strings.Cut(key, ":-")

		value := os.Getenv(varName)
		if value == "" {
			if fallbackProvided {
				return defaultValue
			}
			missingVars = append(missingVars, varName)
			return ""
		}
		return value
	})

	if len(missingVars) > 0 {
		return "", configError(fmt.Errorf("missing required environment variable(s): %s", strings.Join(missingVars, ", ")), "")
	}
	return expanded, nil
}

// ReadFile reads a secret from path. Trailing newlines are trimmed, and a
// file readable by group or others is accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", configError(fmt.Errorf("secret file path is empty"), "")
	}

	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", configError(fmt.Errorf("secret file not found: %s", cleanPath), cleanPath)
		}
		return "", configError(fmt.Errorf("failed to stat secret file %s: %w", cleanPath, err), cleanPath)
	}

	if !info.Mode().IsRegular() {
		return "", configError(fmt.Errorf("secret path is not a regular file: %s", cleanPath), cleanPath)
	}

	if info.Size() > maxSecretFileSize {
		return "", configError(fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, cleanPath), cleanPath)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", configError(fmt.Errorf("failed to read secret file %s: %w", cleanPath, err), cleanPath)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", configError(fmt.Errorf("secret file is empty: %s", cleanPath), cleanPath)
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// ${VAR} references expanded. Values without a ${ reference are returned as is,
// so literal passwords may contain '$'.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	if !strings.Contains(value, "${") {
		return value, nil
	}
	return ExpandString(value)
}
