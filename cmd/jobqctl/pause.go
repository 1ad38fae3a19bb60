package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <name>",
		Short: "Suspend dispatch of jobs with the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).PauseJob(args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func newResumeCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <name>",
		Short: "Re-admit jobs with the given name to dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(addr).ResumeJob(args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}
