// The main package for the appscraper executable.
package main

import "github.com/storepulse/appscraper/cmd"

func main() {
	cmd.Execute()
}
