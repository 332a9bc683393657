package cmdutils

import "fmt"

const logo = "🐈‍⬛"

// PrintResponse prints an agent reply to stdout with the CLI banner.
func PrintResponse(text string) {
	if text == "" {
		return
	}

	fmt.Printf("\n%s blackcat\n%s\n\n", logo, text)
}
