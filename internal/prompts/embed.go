// Package prompts renders the instruction handed to each phase's CLI from
// templates that can be overridden per project or per user.
package prompts

import "embed"

//go:embed phases/*.md
var embeddedFS embed.FS
