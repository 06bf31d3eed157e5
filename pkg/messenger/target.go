// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import "github.com/dtn7/web-activities/pkg/window"

// TargetResolver yields the window a Messenger posts to.
type TargetResolver interface {
	// Resolve returns the target window or nil if it does not exist (yet).
	Resolve() window.Target
}

// FixedTarget resolves to a window known at construction, e.g. the parent of a hosted frame.
type FixedTarget struct {
	target window.Target
}

func NewFixedTarget(target window.Target) FixedTarget {
	return FixedTarget{target: target}
}

func (fixed FixedTarget) Resolve() window.Target {
	return fixed.target
}

// LazyTarget reads the target on demand, e.g. an iframe's content window after its src was set.
type LazyTarget func() window.Target

func (lazy LazyTarget) Resolve() window.Target {
	return lazy()
}
