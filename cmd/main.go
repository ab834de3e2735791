package main

import (
	"github.com/leadloop/agentbus/internal/app"
	"github.com/leadloop/agentbus/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
