package main

import "time"

// GlobalFlags are persistent across all commands.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	JSON       bool
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	TemplateID string
	At         string
}

type WatchFlags struct {
	Bell bool
}

type ProbeFlags struct {
	Source string
}

type ShowFlags struct {
	At string
}
