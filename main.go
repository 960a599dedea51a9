package main

import (
	"github.com/clipcast/clipcast-cli/cmd"
	"github.com/clipcast/clipcast-cli/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
