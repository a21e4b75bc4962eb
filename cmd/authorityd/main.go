package main

import (
	"log"

	"sessionvault/services/authorityd"
)

func main() {
	if err := authorityd.Main(); err != nil {
		log.Fatalf("authorityd: %v", err)
	}
}
