// Command wasend sends one WhatsApp message or status through the gateway
// from the shell, using the same validation and dispatch rules as the bot.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gookit/color"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	// outcome lines are already printed
	if !errors.Is(err, errReported) {
		fmt.Fprintln(os.Stderr, color.Red.Sprint("error:"), err)
	}
	os.Exit(1)
}
