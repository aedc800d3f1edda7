// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active websocket connections
//   - Router throughput by message kind and dispatch failures by reason
//   - Broadcast subscriber lag
//   - Inbound frames that failed to decode
//
// Collectors live on a private registry exposed through Handler. Every
// method is safe on a nil *Metrics, so components can run without metrics.
package metrics
