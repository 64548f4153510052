package main

import (
	"github.com/microgrid-sim/microgrid-sim/cmd"
)

func main() {
	cmd.Execute()
}
