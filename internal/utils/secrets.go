package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - путь по умолчанию для Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// ReadSecret читает секрет из файла Docker Secret.
func ReadSecret(secretName string) (string, error) {
	return ReadSecretFrom(DefaultSecretsDir, secretName)
}

// ReadSecretFrom читает секрет secretName из директории dir.
func ReadSecretFrom(dir, secretName string) (string, error) {
	filePath := filepath.Join(dir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// OptionalSecret возвращает значение из env, а если оно пустое - из файла секрета.
// Отсутствие и того и другого не ошибка: возвращается пустая строка.
func OptionalSecret(dir, secretName, envValue string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		return v, nil
	}
	secret, err := ReadSecretFrom(dir, secretName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return secret, nil
}
