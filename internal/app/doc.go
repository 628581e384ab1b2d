// Package app composes the marketplace services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (users, requests, quotes, ...)
//	├── storage/            # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation
//	├── services/           # Business logic, one package per domain
//	├── healthcheck/        # Module checks, remediation, scheduler, reports
//	├── realtime/           # WebSocket hub
//	├── httpapi/            # HTTP routes and handlers
//	├── runtime/            # Config-driven process bootstrap
//	├── metrics/            # Prometheus collectors
//	└── system/             # Lifecycle manager for background services
//
// # Dependency Direction
//
//	cmd/assistenza
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │                        │
//	      ▼                        ▼
//	internal/app (composition) ──► services ──► storage
//
// Services never import httpapi or runtime. Optional integrations (maps,
// payments, broker, AI) are passed in through Options; a zero value keeps the
// local fallback.
package app
