// Package command provides the Cobra-based dispatcher that the gateway
// pipeline routes structural slash commands to, adapted from the teacher's
// command/pkg/command packages and generalized onto internal/botcore.
package command

import "github.com/spf13/cobra"

// Factory builds a fresh Cobra command tree for one request. A fresh tree
// per request avoids flag-parsing races across concurrent HTTP handlers.
type Factory func() *cobra.Command
