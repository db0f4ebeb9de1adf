// The main package for the mapcompute executable.
package main

import "github.com/JakeFAU/mapcompute/cmd"

func main() {
	cmd.Execute()
}
