package main

import (
	"os"

	"github.com/GPTx-global/guru-oracle/oracle/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
