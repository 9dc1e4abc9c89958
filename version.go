package chatflow

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/aretw0/chatflow.Version=...".
var Version = "dev"
