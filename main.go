package main

import (
	"log/slog"

	"github.com/BioHazard786/Camsync/cmd"
	"github.com/BioHazard786/Camsync/internal/logging"
)

func main() {
	logging.Init(slog.LevelError)
	cmd.Execute()
}
