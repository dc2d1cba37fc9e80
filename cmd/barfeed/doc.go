// Package main hosts the barfeed CLI entrypoint and command graph.
//
// `barfeed run` is the daemon: it writes bar lines to stdout and reads
// commands from the configured named pipe. The remaining commands are thin
// clients over that pipe and the daemon's pid file, plus configuration
// scaffolding. Logic belongs in the internal packages; commands here only
// resolve configuration and render results.
package main
