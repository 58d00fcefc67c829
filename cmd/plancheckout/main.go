// plancheckout はサブスクリプションプランの決済APIサーバーとワーカーを起動する。
//
// 使い方:
//
//	plancheckout [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/plancheckout/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "plancheckout: %v\n", err)
		os.Exit(1)
	}
}
