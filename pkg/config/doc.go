// Package config loads the client preferences of managedmac.
//
// Preferences are written in CUE. The file is unified with an embedded
// schema that supplies every default, so an empty file is a valid
// configuration:
//
//	repo_url: "https://repo.example.com/managedmac"
//	printers: max_pending_jobs: 4
//	state_backend: "sqlite"
//
// Unknown fields and out of range values are rejected with their file
// position. The decoded Client is then checked with validator struct tags
// and exposes the paths derived from its data directory.
package config
