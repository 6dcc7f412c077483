// Package validator checks flow files before a browser is started.
// It parses every file upfront, follows runFlow references and reports
// all errors at once.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/devicelab-dev/browser-runner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of flow file paths in execution order.
	Files []string
	// Errors contains all validation errors found.
	Errors []error
}

func (r *Result) listed(file string) bool {
	for _, f := range r.Files {
		if f == file {
			return true
		}
	}
	return false
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
	patterns    []glob.Glob
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// WithPatterns limits directory scans to files whose path, relative to the
// scanned directory, matches one of the glob patterns ("login/*.yaml",
// "**/smoke-*.yaml"). Explicitly named files are always validated.
func (v *Validator) WithPatterns(patterns []string) (*Validator, error) {
	for _, pattern := range patterns {
		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid flow pattern '%s': %w", pattern, err)
		}
		v.patterns = append(v.patterns, g)
	}
	return v, nil
}

// Validate validates a file or directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = v.collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	validated := make(map[string]bool)
	for _, file := range files {
		v.validateFile(file, result, validated, nil)
	}

	return result
}

// collectFlowFiles finds flow files in a directory. Workspace config files
// are not flows.
func (v *Validator) collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if base := info.Name(); base == "config.yaml" || base == "config.yml" {
			return nil
		}
		if !v.matches(dir, path) {
			return nil
		}
		files = append(files, path)
		return nil
	})

	return files, err
}

func (v *Validator) matches(dir, path string) bool {
	if len(v.patterns) == 0 {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range v.patterns {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// validateFile validates a single file and its runFlow dependencies.
func (v *Validator) validateFile(filePath string, result *Result, validated map[string]bool, chain []string) {
	for _, ancestor := range chain {
		if ancestor == filePath {
			cycle := append(append([]string(nil), chain...), filePath)
			result.Errors = append(result.Errors, &ValidationError{
				File:    filePath,
				Message: fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
			})
			return
		}
	}

	// A file already checked as a runFlow target may still be listed as a
	// top-level flow.
	if validated[filePath] && (len(chain) > 0 || result.listed(filePath)) {
		return
	}

	f, err := flow.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	// Tag filters apply to top-level files, not runFlow targets
	if len(chain) == 0 && !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		return
	}

	if len(chain) == 0 {
		result.Files = append(result.Files, filePath)
	}
	if validated[filePath] {
		return
	}
	validated[filePath] = true

	newChain := append(append([]string(nil), chain...), filePath)
	v.validateRunFlowSteps(f.Steps, filePath, result, validated, newChain)
	v.validateRunFlowSteps(f.Config.OnFlowStart, filePath, result, validated, newChain)
	v.validateRunFlowSteps(f.Config.OnFlowComplete, filePath, result, validated, newChain)
}

// validateRunFlowSteps finds and validates runFlow references in steps.
// File references containing variables are resolved at run time.
func (v *Validator) validateRunFlowSteps(steps []flow.Step, parentFile string, result *Result, validated map[string]bool, chain []string) {
	parentDir := filepath.Dir(parentFile)

	for _, step := range steps {
		switch s := step.(type) {
		case *flow.RunFlowStep:
			if s.File != "" && !strings.Contains(s.File, "${") {
				v.validateFile(resolveFilePath(parentDir, s.File), result, validated, chain)
			}
			v.validateRunFlowSteps(s.Steps, parentFile, result, validated, chain)

		case *flow.RepeatStep:
			v.validateRunFlowSteps(s.Steps, parentFile, result, validated, chain)
		}
	}
}

// resolveFilePath resolves a file path relative to a base directory.
func resolveFilePath(baseDir, filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(baseDir, filePath)
}
