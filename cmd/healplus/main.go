// Command healplus runs the healplus auth and admission server.
package main

import (
	"log"

	"healplus/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
