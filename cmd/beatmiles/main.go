// Command beatmiles はワークアウト記録APIサーバーとその補助コマンドを起動する。
//
//	beatmiles [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/beatmiles/beatmiles/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "beatmiles: %v\n", err)
		os.Exit(1)
	}
}
