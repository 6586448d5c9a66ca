// SPDX-License-Identifier: MIT
package analysis

import (
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"
)

// FrameSource is what publishers and monitors need from the orchestrator:
// a way to ask for analysis and the places results appear.
type FrameSource interface {
	// Subscribe starts analysis for caps until the Subscription is closed.
	Subscribe(caps Capability) (*Subscription, error)
	Store() *store.Store // Store holds the published frames.
	Hub() *synchub.Hub   // Hub carries the shared view window.
}

// Resettable is implemented by sources whose carried state can be cleared,
// for example when the input device changes.
type Resettable interface {
	Reset()
}

// Compile-time checks for interface implementations.
var _ FrameSource = (*Orchestrator)(nil)
var _ Resettable = (*Orchestrator)(nil)
