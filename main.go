// Package main is entrypoint for the application
package main

import (
	"duocall/cmd"
)

func main() {
	cmd.Run()
}
