// The main package for the scrapekit executable.
package main

import "github.com/JakeFAU/scrapekit/cmd"

func main() {
	cmd.Execute()
}
