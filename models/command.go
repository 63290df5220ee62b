package models

import (
	"fmt"
	"strings"
)

// Command is the lifecycle stage a container is declared to reach.
//
// The manifest stores commands in their canonical form ("Ignore", "Download",
// "Build", "Run"). Parsing is case-insensitive.
type Command string

const (
	CommandIgnore   Command = "Ignore"   // Leave the container untouched
	CommandDownload Command = "Download" // Pull the image only
	CommandBuild    Command = "Build"    // Pull the image and create the container
	CommandRun      Command = "Run"      // Pull, create and start the container
)

// Commands lists every command in declaration order.
var Commands = []Command{CommandIgnore, CommandDownload, CommandBuild, CommandRun}

// ParseCommand converts a user-provided string into a Command.
func ParseCommand(s string) (Command, error) {
	for _, c := range Commands {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (expected one of Ignore, Download, Build, Run)", s)
}

// Target returns the resource stage a command drives a container to.
// The boolean is false for CommandIgnore, which has no target.
func (c Command) Target() (ResourceStage, bool) {
	switch c {
	case CommandIgnore:
		return StageMissing, false
	case CommandDownload:
		return StageAvailable, true
	case CommandBuild:
		return StageBuilt, true
	case CommandRun:
		return StageRunning, true
	default:
		return StageMissing, false
	}
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	switch c {
	case CommandIgnore, CommandDownload, CommandBuild, CommandRun:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and YAML decoding.
func (c *Command) UnmarshalText(text []byte) error {
	parsed, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
