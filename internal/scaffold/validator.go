package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if council.yml or briefs/ directory already exist
// Returns an error if they do, nil otherwise
func CheckExisting() error {
	var existingFiles []string

	// Check for council.yml
	if _, err := os.Stat("council.yml"); err == nil {
		existingFiles = append(existingFiles, "council.yml")
	}

	// Check for briefs/ directory
	if info, err := os.Stat("briefs"); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, "briefs/")
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'council init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
