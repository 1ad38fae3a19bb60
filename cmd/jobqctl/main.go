// Command jobqctl is a CLI client for a running jobq deployment,
// talking to the adminapi HTTP surface. Grounded on
// Pranav1703-FlamAssignment's cmd/root.go command-tree shape,
// generalized from a process-local SQLite store to HTTP calls since
// jobqctl and the service it controls are separate processes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobq-go/jobq/cmd/jobqctl/internal/client"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "jobqctl",
		Short: "Control and inspect a running jobq admin API",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8081", "jobq admin API base URL")

	root.AddCommand(
		newEnqueueCmd(&addr),
		newListCmd(&addr),
		newStatusCmd(&addr),
		newDLQCmd(&addr),
		newPauseCmd(&addr),
		newResumeCmd(&addr),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient(addr *string) *client.Client {
	return client.New(*addr)
}
