// Package logs reads the daemon log file for `barfeed logs`.
//
// Last returns the final lines of the file with bounded memory; Follow polls
// for appended lines until its context ends, starting over when the file is
// truncated or replaced.
package logs
