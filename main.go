// The main package for the variant-crawler executable.
package main

import (
	"github.com/JakeFAU/retail-variant-crawler/cmd"
)

func main() {
	cmd.Execute()
}
