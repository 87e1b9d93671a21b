package main

import "github.com/nfrund/periskope/cmd/periskope-cli/cmd"

func main() {
	cmd.Execute()
}
