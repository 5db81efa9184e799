// Command chaoslab starts a Chaos Lab scenario and presents its remote shell
// in a separate terminal window.
package main

import (
	"fmt"
	"os"
	"time"
)

const shutdownTimeout = 5 * time.Second

func main() {
	args := os.Args[1:]
	var err error
	if len(args) > 0 && args[0] == "view" {
		err = runView(args[1:])
	} else {
		err = runClient(args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "chaoslab: %v\n", err)
		os.Exit(1)
	}
}
