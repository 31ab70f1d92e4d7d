package main

import (
	"os"

	"horse.fit/mediatrends/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
