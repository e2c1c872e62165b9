// Package publisher bridges committed notifications to external systems.
//
// A Registry owns one worker per configured sink. A dispatcher goroutine
// drains the engine's notification tap and offers each notification to
// every worker; the worker filters by table glob, encodes (JSON or
// msgpack), optionally compresses and publishes to its sink under
// <topic_prefix>.<table>.
//
// Delivery is best effort end to end: a notification arriving while a
// worker's buffer is full is dropped for that sink, and a publish that
// keeps failing is abandoned after bounded exponential backoff. Subscribers
// inside the process never wait on sink trouble.
package publisher
