package main

import "github.com/audiolibrelab/pcmcapture/cmd"

func main() {
	cmd.Execute()
}
