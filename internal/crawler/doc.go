// Package crawler holds the domain model of the department news ingester:
// departments, page records, attachments, fetch envelopes, and the narrow
// interfaces (stores, fetchers, gates, publishers) that the pipeline is wired
// against.
package crawler
