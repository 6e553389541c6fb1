// Package main is the entry point for the repository sync API server.
package main

import (
	"fmt"
	"os"

	"github.com/reporank/reporank-server/cmd/reporank-api/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
