//go:build tools
// +build tools

// Package chat_hub pins code generators used by go:generate (mockgen for the mocks package)
// so go.mod and go.sum track them.
package chat_hub

import (
	_ "go.uber.org/mock/mockgen"
)
