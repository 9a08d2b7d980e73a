package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// @title						PYQ API
// @version					1.0
// @description				Previous-year question paper archive: upload, browse and download PDFs.
// @BasePath					/
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
