package main

import "time"

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags switch a command from the local store to a running daemon.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type SetFlags struct {
	APIFlags
	Agent    string
	Status   string
	Meta     []string // k=v
	ErrorMsg string
}

type GetFlags struct {
	APIFlags
	Agent  string
	Output string // json | yaml
}

type ListFlags struct {
	APIFlags
	Output string
}

type WaitFlags struct {
	APIFlags
	Agents   []string
	Timeout  time.Duration
	Interval time.Duration
}

type CleanupFlags struct {
	APIFlags
	Agent string
}

type HealthFlags struct {
	APIFlags
}

type ServeFlags struct {
	Listen   string
	BasePath string
}

type ConfigInitFlags struct {
	Path  string
	Force bool
}
