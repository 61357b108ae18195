// Command effigy is the workspace-scoped task runner's CLI entrypoint.
package main

import (
	"effigy/cmd/effigy"
)

func main() {
	cmd.Execute()
}
