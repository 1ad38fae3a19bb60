package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDLQCmd(addr *string) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead-letter queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).ListDLQ()
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).RetryDLQ(args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}

	dlqCmd.AddCommand(listCmd, retryCmd)
	return dlqCmd
}
