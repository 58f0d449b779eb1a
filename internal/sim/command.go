package sim

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// ErrBadCommand marks a command line that is not key=value.
var ErrBadCommand = errors.New("malformed command line")

// ParseCommand parses one "key=value" line. Surrounding whitespace is
// trimmed from both halves.
func ParseCommand(line string) (Command, error) {
	key, value, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Command{}, fmt.Errorf("%q: %w", line, ErrBadCommand)
	}
	return Command{Key: key, Value: strings.TrimSpace(value)}, nil
}

// ParseCommands parses newline-separated "key=value" lines, skipping
// blank lines and lines starting with '#'. Bad lines are reported
// together; the good ones are still returned.
func ParseCommands(text string) ([]Command, error) {
	var cmds []Command
	var errs []error
	sc := bufio.NewScanner(strings.NewReader(text))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		cmds = append(cmds, cmd)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	return cmds, errors.Join(errs...)
}

// String formats the command as a key=value line.
func (c Command) String() string {
	return c.Key + "=" + c.Value
}
