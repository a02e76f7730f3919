// Package events models captured input as a closed set of raw events (mouse
// clicks and key presses) and provides the sources that feed them into a
// recording session: a JSONL script replayer and a deterministic synthetic
// timeline for demos and automated tests. It also carries the text redactor
// and the own-window predicate used by the event processor.
package events
