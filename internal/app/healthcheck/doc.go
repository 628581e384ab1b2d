// Package healthcheck runs module health checks, schedules them, applies
// automatic remediation, samples host performance and renders PDF reports.
package healthcheck
