package main

import (
	"github.com/dyike/cortexflow/internal/cli"
)

func main() {
	cli.Run()
}
