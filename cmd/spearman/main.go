package main

import (
	"os"

	"github.com/VanDung-dev/spearman-engine/internal/cli"
)

func main() {
	os.Exit(cli.GetExitCode(cli.NewRootCommand().Execute()))
}
