package main

import "github.com/openclaw/clasper/cmd/clasper/cmd"

func main() {
	cmd.Execute()
}
