// Package security bounds what a run may write: artifact names must stay
// inside the run directory and artifact bytes are capped per file and per run.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Validator checks artifact names and sizes
type Validator struct {
	maxFileSize  int64
	maxTotalSize int64

	mu               sync.Mutex
	currentTotalSize int64
}

// NewValidator creates a new validator. A non-positive limit disables that check.
func NewValidator(maxFileSize, maxTotalSize int64) *Validator {
	slog.Debug("security_validator_init",
		"max_file_size_mb", maxFileSize/1024/1024,
		"max_total_size_mb", maxTotalSize/1024/1024)

	return &Validator{
		maxFileSize:  maxFileSize,
		maxTotalSize: maxTotalSize,
	}
}

// ValidatePath checks that an artifact name is relative and cannot escape
// the directory it is written to
func (v *Validator) ValidatePath(name string) error {
	if strings.TrimSpace(name) == "" {
		slog.Error("security_path_validation_failed", "path", name, "reason", "empty")
		return fmt.Errorf("security: empty path")
	}

	// Reject absolute paths
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		slog.Error("security_path_validation_failed", "path", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}

	clean := filepath.Clean(name)

	// Reject paths that escape the current directory
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "path", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}
	if clean == "." {
		slog.Error("security_path_validation_failed", "path", name, "reason", "no_file_name")
		return fmt.Errorf("security: path has no file name: %s", name)
	}

	return nil
}

// ValidateFileSize checks if a single file exceeds max file size
func (v *Validator) ValidateFileSize(size int64) error {
	if v.maxFileSize > 0 && size > v.maxFileSize {
		slog.Error("security_file_size_exceeded",
			"file_size_bytes", size,
			"max_file_size_bytes", v.maxFileSize)
		return fmt.Errorf("security: file size %d exceeds max %d", size, v.maxFileSize)
	}
	return nil
}

// AddArtifactSize tracks the bytes written during a run and checks the total
// against the limit. A rejected size is not counted.
func (v *Validator) AddArtifactSize(size int64) error {
	if err := v.ValidateFileSize(size); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.maxTotalSize > 0 && v.currentTotalSize+size > v.maxTotalSize {
		slog.Error("security_total_size_exceeded",
			"current_total_bytes", v.currentTotalSize,
			"max_total_bytes", v.maxTotalSize,
			"file_size_bytes", size)
		return fmt.Errorf("security: total artifact size %d exceeds max %d",
			v.currentTotalSize+size, v.maxTotalSize)
	}

	v.currentTotalSize += size
	return nil
}

// CurrentTotalSize returns the bytes accounted so far
func (v *Validator) CurrentTotalSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTotalSize
}
