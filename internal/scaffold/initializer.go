package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the Council project structure
// If force is true, it will remove existing council.yml and briefs/ directory
func Initialize(force bool) error {
	// Handle --force flag
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	// Get template files
	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	// Create directories
	if err := createDirectories(); err != nil {
		return err
	}

	// Write files
	if err := writeFiles(files); err != nil {
		return err
	}

	// Validate created files
	if err := validateCreatedFiles(); err != nil {
		return err
	}

	return nil
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	// Remove council.yml if it exists
	if _, err := os.Stat("council.yml"); err == nil {
		fmt.Println("⚠️  Removing existing council.yml...")
		if err := os.Remove("council.yml"); err != nil {
			return fmt.Errorf("failed to remove council.yml: %w", err)
		}
	}

	// Remove briefs/ directory if it exists
	if info, err := os.Stat("briefs"); err == nil && info.IsDir() {
		fmt.Println("⚠️  Removing existing briefs/ directory...")
		if err := os.RemoveAll("briefs"); err != nil {
			return fmt.Errorf("failed to remove briefs/ directory: %w", err)
		}
	}

	return nil
}

// getTemplateFiles reads and processes all template files
func getTemplateFiles() ([]FileInfo, error) {
	files := []FileInfo{}

	// council.yml
	councilYml, err := templatesFS.ReadFile("templates/council.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read council.yml template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        "council.yml",
		Content:     councilYml,
		Permissions: 0644,
	})

	// briefs/example-brief.md
	brief, err := templatesFS.ReadFile("templates/example-brief.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read example brief template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        filepath.Join("briefs", "example-brief.md"),
		Content:     brief,
		Permissions: 0644,
	})

	return files, nil
}

// createDirectories creates the necessary directory structure
func createDirectories() error {
	if err := os.MkdirAll("briefs", 0755); err != nil {
		return fmt.Errorf("failed to create directory briefs: %w", err)
	}

	return nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}

// validateCreatedFiles validates that created files are correct
func validateCreatedFiles() error {
	// Validate council.yml is valid YAML
	content, err := os.ReadFile("council.yml")
	if err != nil {
		return fmt.Errorf("failed to read created council.yml: %w", err)
	}

	var yamlData interface{}
	if err := yaml.Unmarshal(content, &yamlData); err != nil {
		return fmt.Errorf("created council.yml is not valid YAML: %w", err)
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Council project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ council.yml")
	fmt.Println("  ✓ briefs/example-brief.md")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set ANTHROPIC_API_KEY and point REDIS_ADDR at a Redis instance")
	fmt.Println("  2. Edit council.yml: pick your participants, chair, and target_repo")
	fmt.Println("  3. Write a briefing and run 'council run plan --brief-file briefs/example-brief.md'")
}
