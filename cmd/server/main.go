// Command server はGoogleログインとセッション管理を提供するWebサーバー。
//
// Usage:
//
//	authskeleton [serve|migrate|healthcheck|delete-user <email>]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/authskeleton/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
