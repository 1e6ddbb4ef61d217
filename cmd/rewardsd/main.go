package main

import (
	"log"

	"viewrewards/services/rewardsd"
)

func main() {
	if err := rewardsd.Main(); err != nil {
		log.Fatalf("rewardsd: %v", err)
	}
}
