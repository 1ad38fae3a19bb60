package main

import "github.com/jobq-go/jobq/cmd/jobqctl/internal/client"

func enqueueRequestFrom(name string, payload any, priority, attempts, retries int, timeoutMs, ttlMs int64, onlineOnly bool, workerName string) client.EnqueueRequest {
	return client.EnqueueRequest{
		Name:       name,
		Payload:    payload,
		Priority:   priority,
		Attempts:   attempts,
		Retries:    retries,
		TimeoutMs:  timeoutMs,
		TTLMs:      ttlMs,
		OnlineOnly: onlineOnly,
		WorkerName: workerName,
	}
}
