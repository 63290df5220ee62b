// Package anchor is a declarative container orchestration core for a single
// container engine.
//
// # Overview
//
// A manifest names a set of containers. Each entry gives the image to use,
// port mappings, environment, mounts and a command saying how far along its
// lifecycle the container should be brought:
//
//	Ignore    leave it alone
//	Download  pull the image
//	Build     pull the image and create the container
//	Run       pull, create and start the container
//
// anchor observes where each container stands (Missing, Available, Built,
// Running) and drives it forward. Every engine call is a scheduled task that
// runs under an operation timeout with bounded exponential-backoff retry, and
// every step is published as a structured progress event.
//
// # Architecture
//
//	┌─────────────────┐     ┌─────────────────┐
//	│   CLI (cobra)   │     │  API Server     │
//	│                 │     │  (Echo + WS)    │
//	└────────┬────────┘     └────────┬────────┘
//	         │                       │
//	┌────────▼───────────────────────▼────────┐
//	│  Cluster  ─►  Lifecycle  ─►  Scheduler  │──► Progress Bus
//	└────────────────────┬────────────────────┘
//	                     │ retry / timeouts
//	            ┌────────▼────────┐
//	            │  Engine Client  │
//	            │  (Docker API)   │
//	            └─────────────────┘
//
// # Usage
//
// Describe the cluster:
//
//	anchor manifest add web --uri nginx:1.27 --port 8080:80 --command run
//	anchor manifest add cache --uri redis:7 --command build
//
// Bring it up and look at it:
//
//	anchor cluster start
//	anchor cluster status
//
// Or serve it over HTTP and drive it remotely:
//
//	anchor serve
//	anchor cluster start --server http://localhost:8095
//	anchor cluster events --server http://localhost:8095
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (anchor.yaml)
//   - Environment variables (ANCHOR_ prefix)
//   - .env file
//
// Example configuration:
//
//	engine:
//	  retry_attempts: 3
//	  max_concurrent_tasks: 5
//	registry:
//	  provider: ecr
//	  region: eu-west-1
//	server:
//	  port: 8095
//
// # API Endpoints
//
// Cluster:
//   - GET  /api/v1/cluster         - Observed stage of every container
//   - POST /api/v1/cluster/start   - Start the cluster in the background
//   - POST /api/v1/cluster/stop    - Stop and remove managed containers
//   - POST /api/v1/cluster/remove  - Same, ?images=true also removes images
//
// Tasks:
//   - GET    /api/v1/tasks         - List tasks (status, kind, paginated)
//   - GET    /api/v1/tasks/stats   - Task statistics
//   - GET    /api/v1/tasks/:id     - Get task by ID
//   - DELETE /api/v1/tasks/:id     - Cancel a pending or running task
//
// Engine:
//   - GET /api/v1/containers               - Containers known to the engine
//   - GET /api/v1/containers/:name/metrics - One-shot resource sample
//
// WebSocket:
//   - GET /api/v1/ws/events   - Progress event stream
//   - GET /api/v1/ws/stats    - WebSocket statistics
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Run integration tests (requires a Docker engine):
//
//	go test -v -tags=integration ./internal/engine/...
//
// Build the binary:
//
//	go build -o anchor ./cmd/anchor
package anchor
