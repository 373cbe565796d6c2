package main

import (
	"log"

	"github.com/NikaPanchulidze/Vinyl/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("vinyl store failed: %v", err)
	}
}
