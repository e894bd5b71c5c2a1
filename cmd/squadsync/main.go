package main

import (
	"github.com/squadbets/realtime/cmd/squadsync/cmd"
	"github.com/squadbets/realtime/internal/logging"
)

func main() {
	logging.New()
	cmd.Execute()
}
