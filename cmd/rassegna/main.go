package main

import (
	"os"

	"rassegna.press/rassegna/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
