package registry

import "github.com/dukex/gale/pkg/models"

// DefaultRunnerImages returns the recognized hosted runner images: a Linux,
// a Windows and a macOS image, each with its -latest and pinned aliases.
func DefaultRunnerImages() []models.RunnerImage {
	return []models.RunnerImage{
		{Name: "ubuntu-latest", OS: models.OSLinux, Arch: "amd64", Shell: "sh"},
		{Name: "ubuntu-24.04", OS: models.OSLinux, Arch: "amd64", Shell: "sh"},
		{Name: "ubuntu-22.04", OS: models.OSLinux, Arch: "amd64", Shell: "sh"},
		{Name: "windows-latest", OS: models.OSWindows, Arch: "amd64", Shell: "cmd"},
		{Name: "windows-2025", OS: models.OSWindows, Arch: "amd64", Shell: "cmd"},
		{Name: "windows-2022", OS: models.OSWindows, Arch: "amd64", Shell: "cmd"},
		{Name: "macos-latest", OS: models.OSDarwin, Arch: "arm64", Shell: "sh"},
		{Name: "macos-15", OS: models.OSDarwin, Arch: "arm64", Shell: "sh"},
		{Name: "macos-14", OS: models.OSDarwin, Arch: "arm64", Shell: "sh"},
	}
}
