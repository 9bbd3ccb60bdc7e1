// Package penguiflow is an in-process dataflow runtime that executes a
// directed graph of asynchronous nodes connected by bounded FIFO queues
// ("floes"). It targets agentic/LLM pipelines where nodes perform I/O or
// computation, emit one or many downstream messages, stream incremental
// chunks, and must honor latency deadlines and cooperative cancellation.
//
// The runtime is single-process and cooperative: each node runs on its own
// goroutine, and backpressure is expressed purely as channel blocking — no
// disk-backed queues, no distributed scheduling, no exactly-once delivery.
package penguiflow
