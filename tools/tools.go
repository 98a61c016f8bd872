//go:build tools
// +build tools

package tools

import (
	// Blank imports pin the build/lint tool versions this repository's
	// CI runs, keeping them out of the main module's dependency graph.
	_ "github.com/btcsuite/btcd"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/ory/go-acc"
	_ "github.com/rinchsan/gosimports/cmd/gosimports"
)
