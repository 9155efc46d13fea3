package main

import (
	"fmt"
	"os"

	"github.com/PoetCoderJun/autocut-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	// Background components: embedded worker + metrics collectors.
	a.Start()

	if a.Cfg.RunServer {
		fmt.Printf("Server listening on :%s\n", a.Cfg.Port)
		if err := a.Run(":" + a.Cfg.Port); err != nil {
			a.Log.Warn("Server failed", "error", err)
		}
		return
	}

	// Worker-only container: keep process alive.
	select {}
}
