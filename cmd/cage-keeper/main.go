package main

import (
	"log"

	"cagekeeper/keeper"
)

func main() {
	if err := keeper.Main(); err != nil {
		log.Fatalf("cage-keeper: %v", err)
	}
}
