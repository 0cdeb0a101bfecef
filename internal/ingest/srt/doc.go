// Package srt implements SRT (Secure Reliable Transport) ingest in
// listener mode, accepting incoming MPEG-TS publish connections and
// handing their byte streams to the ingest registry.
package srt
