package main

import (
	"log"

	"github.com/marqd/marqd/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ marqd failed to start: %v", err)
	}
}
