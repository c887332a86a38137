// cogstated infers a writer's cognitive state (flow, incubation, stuck)
// from keystroke timing and serves the running belief.
//
//	cogstated run               Start the inference daemon
//	cogstated sessions          List recorded sessions
//	cogstated export <id>       Export a session as JSON
//	cogstated config show       Print the effective configuration
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
