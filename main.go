package main

import (
	"os"

	"github.com/councilkb/councilkb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
