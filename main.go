package main

import (
	"os"

	"github.com/freol35241/lisa-loop/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
