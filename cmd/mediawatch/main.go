package main

import (
	"os"

	"horse.fit/mediawatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
