// Command harvester runs bounded restaurant menu harvests.
package main

import "github.com/JakeFAU/menu-harvester/cmd"

func main() {
	cmd.Execute()
}
