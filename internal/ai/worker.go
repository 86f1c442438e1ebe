package ai

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/atlaschat/chat-app/internal/messaging"
	"github.com/atlaschat/chat-app/internal/metrics"
)

// Worker consumes prompts from the ai.request subject, calls the completion
// backend, and publishes exactly one reply per prompt to the requester's
// reply subject. Backend failures become error replies; a prompt is never
// answered with silence.
type Worker struct {
	nats        *messaging.NATSClient
	backend     *Backend
	concurrency int

	slots chan struct{}
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewWorker creates a Worker processing at most concurrency prompts at once.
func NewWorker(nc *messaging.NATSClient, backend *Backend, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Worker{
		nats:        nc,
		backend:     backend,
		concurrency: concurrency,
		slots:       make(chan struct{}, concurrency),
		done:        make(chan struct{}),
	}
}

// Start subscribes to the request subject. Each prompt is handled on its own
// goroutine, bounded by the concurrency semaphore.
func (w *Worker) Start() error {
	return w.nats.SubscribeAIRequests(func(data []byte) {
		select {
		case <-w.done:
			return
		case w.slots <- struct{}{}:
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.handle(data)
		}()
	})
}

// Stop waits for in-flight prompts to finish.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

// handle answers a single prompt.
func (w *Worker) handle(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[aiworker] bad request payload: %v", err)
		return
	}

	start := time.Now()
	completion, err := w.backend.Complete(context.Background(), req.Prompt)
	metrics.AIRequestSeconds.Observe(time.Since(start).Seconds())

	reply := Reply{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
	}
	if err != nil {
		log.Printf("[aiworker] completion failed session=%s request=%s: %v",
			req.SessionID, req.RequestID, err)
		reply.Err = "the AI responder could not answer"
	} else {
		reply.Completion = completion
	}

	out, err := json.Marshal(reply)
	if err != nil {
		log.Printf("[aiworker] marshal reply session=%s: %v", req.SessionID, err)
		return
	}
	if err := w.nats.PublishAIReply(req.SessionID, out); err != nil {
		log.Printf("[aiworker] publish reply session=%s: %v", req.SessionID, err)
		return
	}

	log.Printf("[aiworker] answered session=%s request=%s in %s",
		req.SessionID, req.RequestID, time.Since(start).Round(time.Millisecond))
}
