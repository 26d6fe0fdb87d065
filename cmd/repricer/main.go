package main

import (
	"github.com/joho/godotenv"

	"listing-repricer/internal/cli"
)

func main() {
	// Best effort; configuration also reads the process environment.
	_ = godotenv.Load()

	cli.Execute()
}
