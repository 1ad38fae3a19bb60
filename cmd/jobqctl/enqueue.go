package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEnqueueCmd(addr *string) *cobra.Command {
	var (
		payloadJSON string
		priority    int
		attempts    int
		retries     int
		timeoutMs   int64
		ttlMs       int64
		onlineOnly  bool
		workerName  string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <name>",
		Short: "Enqueue a job by worker name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
			}

			id, err := newClient(addr).Enqueue(enqueueRequestFrom(args[0], payload, priority, attempts, retries, timeoutMs, ttlMs, onlineOnly, workerName))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "job payload as a JSON literal")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority, higher runs earlier")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "max attempts (overrides --retries)")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry count; maxAttempts = retries + 1")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "per-run worker timeout in ms")
	cmd.Flags().Int64Var(&ttlMs, "ttl-ms", 0, "job time-to-live in ms, 0 means default")
	cmd.Flags().BoolVar(&onlineOnly, "online-only", false, "require connectivity before dispatch")
	cmd.Flags().StringVar(&workerName, "worker-name", "", "diagnostic worker name override")

	return cmd
}
