package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("constructops %s (commit %s, built %s, %s %s)",
		b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}

// CurrentBuildInfo reports the ldflags-injected build variables.
func CurrentBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: goruntime.Version(),
		Platform:  goruntime.GOOS + "/" + goruntime.GOARCH,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print build information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("output")
			return PrintResult(cmd, format, CurrentBuildInfo())
		},
	}
}
