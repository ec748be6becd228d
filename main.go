// Command ariabridge runs and controls an aria2 download daemon.
package main

import "github.com/ghermez/ariabridge/cmd"

func main() {
	cmd.Execute()
}
