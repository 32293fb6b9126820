// Package agent provides the shared runtime all EduInsight agents embed:
// bus subscription, the one-message-at-a-time processing loop, registry
// registration with heartbeats, and per-agent performance accounting.
// Concrete agents (analysis, report, interface management) supply a Handler
// and inherit everything else.
package agent
