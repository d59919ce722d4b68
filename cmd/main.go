package main

import (
	"fmt"
	"os"

	"github.com/clipforge/clipforge-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start(a.Cfg.RunServer, a.Cfg.RunWorker)

	if a.Cfg.RunServer {
		fmt.Printf("server listening on :%s\n", a.Cfg.Port)
		if err := a.Run(":" + a.Cfg.Port); err != nil {
			a.Log.Warn("server failed", "error", err)
		}
		return
	}

	// Worker-only process: keep running until killed.
	select {}
}
