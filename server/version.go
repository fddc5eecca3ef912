package server

var (
	// Version of the daemon, overwritten at build time
	Version = "0.0.1-alpha"

	// Commit of the build, overwritten at build time
	Commit = "HEAD"
)
