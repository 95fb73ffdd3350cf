package main

import (
	"github.com/optcgph/marketplace/cmd"
)

var (
	// set by the build via ldflags
	version   string
	commit    string
	buildTime string
)

func main() {
	cmd.SetBuildInfo(version, commit, buildTime)
	cmd.Execute(version, commit, buildTime)
}
