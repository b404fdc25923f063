package main

import (
	"os"

	"github.com/planforge/planforge/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
