// Command app runs the desktop shell against frontend files on disk, so
// UI edits show up without rebuilding the embedded assets.
package main

import (
	"flag"
	"log"
	"os"

	"meeting-summarizer/internal/bootstrap"
)

func main() {
	frontendDir := flag.String("frontend", "frontend", "directory served as the UI")
	flag.Parse()

	if _, err := os.Stat(*frontendDir); err != nil {
		log.Fatalf("frontend directory: %v", err)
	}

	app, err := bootstrap.NewWithAssets(os.DirFS(*frontendDir))
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("run app: %v", err)
	}
}
