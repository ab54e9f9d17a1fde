package main

import (
	"log"

	"github.com/joho/godotenv"

	"parley/cmd/internal/app"
)

func main() {
	// Local development reads a .env file when present; deployed
	// environments set real variables and have no such file.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
