package models

// OSFamily is the operating system family of a runner image.
type OSFamily string

const (
	OSLinux   OSFamily = "linux"
	OSWindows OSFamily = "windows"
	OSDarwin  OSFamily = "darwin"
)

// RunnerImage describes a hosted runner environment a job can request
// through runs-on.
type RunnerImage struct {
	Name  string   `json:"name"`
	OS    OSFamily `json:"os"`
	Arch  string   `json:"arch"`
	Shell string   `json:"shell"` // Interpreter for run steps: sh or cmd
}

// ShellCommand wraps a step command line in the image's shell invocation.
func (ri RunnerImage) ShellCommand(script string) []string {
	if ri.Shell == "cmd" {
		return []string{"cmd", "/C", script}
	}

	return []string{ri.Shell, "-c", script}
}
