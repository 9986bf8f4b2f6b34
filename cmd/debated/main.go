package main

import (
	"os"

	"github.com/alejandroruanova/debate-engine/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
