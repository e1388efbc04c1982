package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// stdinPath is the --file value that reads targets from standard input.
const stdinPath = "-"

// collectTargets returns the positional ids followed by those read from
// file, one per line. Blank lines and lines starting with # are skipped.
// Duplicates are kept; the service answers each occurrence.
func collectTargets(cmd *cobra.Command, args []string, file string) ([]string, error) {
	targets := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			targets = append(targets, a)
		}
	}
	if file == "" {
		return targets, nil
	}

	var r io.Reader
	if file == stdinPath {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("%w: opening target file: %w", ErrUsage, err)
		}
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading target file: %w", err)
	}
	return targets, nil
}
