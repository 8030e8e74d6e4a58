package main

import (
	"context"
	"os"

	"github.com/gulfclinic/clinicadmin/internal/cli"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
