package main

import "github.com/clinassist/kbpipeline/cmd"

func main() {
	cmd.Execute()
}
