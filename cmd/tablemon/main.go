package main

import (
	"github.com/oneconcern/tablemon/cmd/tablemon/cmd"
)

func main() {
	cmd.Execute()
}
