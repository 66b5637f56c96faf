package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqui/messenger/internal/messaging"
	"github.com/loqui/messenger/internal/push"
)

func main() {
	log.Println("Starting messenger push worker...")

	gatewayURL := os.Getenv("PUSH_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "http://localhost:9100/send"
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "messenger-pushworker"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	// Subscribe to the shared job queue: each job goes to exactly one worker.
	err = natsClient.SubscribePushJobs(func(data []byte) {
		var job push.Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("[pushworker] failed to unmarshal job: %v", err)
			return
		}

		if err := deliver(httpClient, gatewayURL, job); err != nil {
			// Push is best effort end to end; a failed send is logged and
			// dropped. The recipient still has the message waiting on sync.
			log.Printf("[pushworker] DROP job=%s kind=%s: %v", job.ID, job.Kind, err)
			return
		}
		log.Printf("[pushworker] SENT job=%s kind=%s", job.ID, job.Kind)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to push jobs: %v", err)
	}

	log.Printf("Messenger push worker running")
	log.Printf("  gateway_url: %s", gatewayURL)
	log.Printf("  nats_url:    %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}

// deliver posts one job to the push gateway. The gateway owns the
// FCM/APNs-specific translation; the worker only speaks its HTTP API.
func deliver(client *http.Client, gatewayURL string, job push.Job) error {
	body, err := json.Marshal(struct {
		Address string            `json:"address"`
		Kind    string            `json:"kind"`
		Data    map[string]string `json:"data"`
	}{
		Address: job.Address,
		Kind:    job.Kind,
		Data:    job.Payload,
	})
	if err != nil {
		return err
	}

	resp, err := client.Post(gatewayURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &gatewayError{status: resp.StatusCode}
	}
	return nil
}

type gatewayError struct {
	status int
}

func (e *gatewayError) Error() string {
	return http.StatusText(e.status)
}
