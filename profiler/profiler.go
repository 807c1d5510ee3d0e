// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler carries timing spans across package boundaries. The
// engine's GPU profiler implements ProfilerGroup; frame recording only
// sees this interface.
package profiler

type ProfilerGroup interface {
	Start(label string) ProfilerGroup
	End()
}

// Nop discards all profiling.
var Nop ProfilerGroup = nopGroup{}

type nopGroup struct{}

func (nopGroup) Start(label string) ProfilerGroup { return nopGroup{} }
func (nopGroup) End()                             {}
