package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs known to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).ListJobs()
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func newStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show aggregate job counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).Stats()
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}
