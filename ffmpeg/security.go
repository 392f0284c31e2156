package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Flags that would let ENCODE_ARGS add inputs, reroute streams or change the
// container. The pipeline owns those.
var reservedFlags = map[string]struct{}{
	"-i":              {},
	"-f":              {},
	"-y":              {},
	"-n":              {},
	"-map":            {},
	"-filter_complex": {},
	"-lavfi":          {},
	"-vf":             {},
	"-af":             {},
	"-frames:v":       {},
	"-r":              {},
}

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeAndValidateArgs checks user-supplied encoder arguments for shell
// metacharacters and for flags reserved by the pipeline.
func SanitizeAndValidateArgs(args []string) error {
	for _, arg := range args {
		if _, reserved := reservedFlags[arg]; reserved {
			return fmt.Errorf("flag %s is managed by the pipeline and cannot be overridden", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseEncodeArgs splits and validates the ENCODE_ARGS setting.
func ParseEncodeArgs(command string) ([]string, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := SanitizeAndValidateArgs(args); err != nil {
		return nil, fmt.Errorf("ENCODE_ARGS: %w", err)
	}
	return args, nil
}
