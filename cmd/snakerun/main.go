package main

import (
	"fmt"
	"os"

	"github.com/3leaps/snakerun/internal/cmd"
	apperrors "github.com/3leaps/snakerun/internal/errors"
)

// Set by the build via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
