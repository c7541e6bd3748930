package main

import (
	"encoding/json"
	"fmt"

	"github.com/dockermodel/backendpool/pkg/inference/process"
	"github.com/dockermodel/backendpool/pkg/sandbox"
)

// processSettings is the JSON shape of a "process" backend type's raw
// settings blob.
type processSettings struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Socket  string   `json:"socket"`
}

func parseProcessSettings(raw string) (process.Config, error) {
	var s processSettings
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return process.Config{}, fmt.Errorf("invalid process backend settings: %w", err)
		}
	}
	if s.Command == "" {
		return process.Config{}, fmt.Errorf("process backend settings missing required field: command")
	}
	if s.Socket == "" {
		return process.Config{}, fmt.Errorf("process backend settings missing required field: socket")
	}
	return process.Config{
		Command:              s.Command,
		Args:                 s.Args,
		SocketPath:           s.Socket,
		SandboxConfiguration: sandbox.ConfigurationWorkerProcess,
	}, nil
}
