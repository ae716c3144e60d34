package main

import (
	"AtmoMix/cmd"
)

func main() {
	cmd.Execute()
}
