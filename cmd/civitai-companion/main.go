package main

import (
	_ "go.uber.org/automaxprocs"

	"go-civitai-companion/cmd/civitai-companion/cmd"
	"go-civitai-companion/internal/api"
)

func main() {
	// Ensure all API log file buffers are flushed and files closed on exit
	defer api.CloseAllLoggingTransports()

	cmd.Execute()
}
