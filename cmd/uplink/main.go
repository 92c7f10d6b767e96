package main

import (
	"log"

	"uplink/cmd/uplink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
