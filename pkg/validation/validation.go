// Package validation checks run inputs and output locations before any
// computation starts.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError describes one rejected field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// EdgeTableExtensions are the accepted edge table file extensions
var EdgeTableExtensions = []string{".csv", ".tsv", ".tab", ".txt"}

// ValidateInputFile checks the edge table exists, is a regular readable
// file and has a known extension.
func ValidateInputFile(filePath string) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	known := false
	for _, e := range EdgeTableExtensions {
		if ext == e {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("edge table must have one of %s extensions, got: %q", strings.Join(EdgeTableExtensions, ", "), ext)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("edge table does not exist: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("cannot access edge table: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("edge table path is a directory: %s", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("cannot open edge table: %w", err)
	}
	return file.Close()
}

// ValidateOutputDirectory checks if output directory exists or can be created
func ValidateOutputDirectory(outputDir string) error {
	info, err := os.Stat(outputDir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
	}

	testFile, err := os.CreateTemp(outputDir, ".write_test-*")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	testFile.Close()
	os.Remove(testFile.Name())
	return nil
}

// ValidateOutputFile checks the final table can be created at filePath.
// An existing regular file is allowed and will be replaced.
func ValidateOutputFile(filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("output file path is empty")
	}
	if info, err := os.Stat(filePath); err == nil && info.IsDir() {
		return fmt.Errorf("output file path is a directory: %s", filePath)
	}
	return ValidateOutputDirectory(filepath.Dir(filePath))
}

// Paths groups the locations a run touches
type Paths struct {
	Input         string
	CheckpointDir string
	Output        string
}

// ValidatePaths runs every check and reports all failures together. Input
// is skipped when empty so aggregation-only runs can use it.
func ValidatePaths(p Paths) error {
	var errs ValidationErrors
	if p.Input != "" {
		if err := ValidateInputFile(p.Input); err != nil {
			errs = append(errs, ValidationError{Field: "input", Message: err.Error(), Value: p.Input})
		}
	}
	if p.CheckpointDir == "" {
		errs = append(errs, ValidationError{Field: "checkpoint.dir", Message: "checkpoint location is required"})
	} else if err := ValidateOutputDirectory(p.CheckpointDir); err != nil {
		errs = append(errs, ValidationError{Field: "checkpoint.dir", Message: err.Error(), Value: p.CheckpointDir})
	}
	if p.Output != "" {
		if abs(p.Output) == abs(p.CheckpointDir) {
			errs = append(errs, ValidationError{Field: "output", Message: "output must not be the checkpoint location", Value: p.Output})
		} else if err := ValidateOutputFile(p.Output); err != nil {
			errs = append(errs, ValidationError{Field: "output", Message: err.Error(), Value: p.Output})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
