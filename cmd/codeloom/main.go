// Command codeloom runs the agentic coding assistant backend.
package main

import "github.com/nextlevelbuilder/codeloom/cmd"

func main() {
	cmd.Execute()
}
