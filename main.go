package main

import (
	"github.com/foomo/templatestore/cmd"
)

func main() {
	cmd.Execute()
}
