package main

import (
	_ "embed"

	"github.com/joho/godotenv"

	cli "github.com/terracebot/terrace/cmd/terrace"
)

//go:embed etc/terrace.yaml
var embeddedConfig []byte

func main() {
	// Load .env if present; missing file is fine.
	_ = godotenv.Load()

	cli.SetFallbackConfig(embeddedConfig)
	cli.Execute()
}
