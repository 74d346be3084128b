// Command storyctl manages the story sessions of a running StorySpark server.
package main

import "github.com/GriffinCanCode/StorySpark/internal/cli"

func main() {
	cli.Execute()
}
