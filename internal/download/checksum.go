package download

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileChecksum calculates the hex SHA-256 of a file
func FileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyFileChecksum reports whether the file at filePath has the expected checksum
func VerifyFileChecksum(filePath, expected string) (bool, error) {
	actual, err := FileChecksum(filePath)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
