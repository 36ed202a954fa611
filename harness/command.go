package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// CommandConfig holds the resolved command and arguments needed to run a
// client binary.
type CommandConfig struct {
	Binary    string
	ExtraArgs []string
}

// ResolveBinary returns the expected path of a client binary inside the
// client's build output directory. A binary given as a path is returned
// unchanged.
func ResolveBinary(binaryDir, binary string) string {
	if filepath.IsAbs(binary) || strings.ContainsRune(binary, filepath.Separator) {
		return binary
	}

	return filepath.Join(binaryDir, binary)
}

// WrapCommand returns the exec configuration for a client binary. Clients
// that bind NICs directly need root; sudo -E keeps the environment so the
// library path and log level still reach them.
func WrapCommand(binPath string, args []string, sudo bool) CommandConfig {
	if sudo {
		extra := make([]string, 0, len(args)+2)
		extra = append(extra, "-E", binPath)
		extra = append(extra, args...)

		return CommandConfig{Binary: "sudo", ExtraArgs: extra}
	}

	return CommandConfig{Binary: binPath, ExtraArgs: args}
}

// SplitCommand splits a shell-style command string into a binary and its
// arguments.
func SplitCommand(command string) (CommandConfig, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("parse command %q: %w", command, err)
	}

	if len(args) == 0 {
		return CommandConfig{}, errors.New("empty command")
	}

	return CommandConfig{Binary: args[0], ExtraArgs: args[1:]}, nil
}
