package main

import "github.com/VishalHarindrakumar/rtc-p2p/internal/cmd"

func main() {
	cmd.Execute()
}
