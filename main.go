package main

import "github.com/platformsync/releaseflow/cmd"

func main() {
	cmd.Execute()
}
