package main

import "github.com/pedro-nishida/Unity-BodyTrackingToolkit/cmd"

func main() {
	cmd.Execute()
}
