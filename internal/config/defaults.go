package config

import (
	"os"
	"path/filepath"

	"meeting-summarizer/internal/domain"
)

// AppDirName is the per-user directory holding settings.
const AppDirName = ".meeting-summarizer"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ResultsDir:   filepath.Join(homeDir, "Documents", "MeetingSummaries"),
		Language:     "ko",
		SummaryKinds: []domain.SummaryKind{domain.SummaryKindParagraph},
	}
}

// SettingsPath returns the settings file location under the user home.
func SettingsPath(homeDir string) string {
	return filepath.Join(homeDir, AppDirName, "settings.json")
}
