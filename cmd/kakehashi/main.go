package main

import "github.com/joho/godotenv"

func main() {
	// A missing .env is fine; the environment may be set by the shell.
	_ = godotenv.Load()

	Execute()
}
