//go:build cli
// +build cli

package main

import (
	_ "lats.GO/custom"

	"lats.GO/cmd"
	"lats.GO/config"
)

func main() {
	config.LoadEnv()
	cmd.Execute()
}
