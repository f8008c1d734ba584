package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type StartFlags struct {
	Path       string
	McpConfig  string
	McpPort    int
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	Path       string
	Project    bool
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type CleanupFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type DaemonFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
