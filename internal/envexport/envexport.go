// Package envexport formats resolved mappings as shell statements.
package envexport

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/brizzbuzz/oploader/internal/errors"
)

type Format string

const (
	POSIX  Format = "posix"
	Fish   Format = "fish"
	Dotenv Format = "dotenv"
)

var formats = []Format{POSIX, Fish, Dotenv}

// ParseFormat accepts a format name; empty means posix.
func ParseFormat(name string) (Format, error) {
	if name == "" {
		return POSIX, nil
	}
	for _, f := range formats {
		if string(f) == strings.ToLower(name) {
			return f, nil
		}
	}
	return "", errors.ValidationError("Parsing output format", "format", name, "one of posix, fish, dotenv")
}

// Export writes one assignment per name, sorted by name.
func Export(w io.Writer, format Format, values map[string]string) error {
	if format == Dotenv {
		if len(values) == 0 {
			return nil
		}
		out, err := marshalDotenv(values)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out+"\n")
		return err
	}

	for _, name := range sortedNames(values) {
		var line string
		switch format {
		case Fish:
			line = fmt.Sprintf("set -gx %s %s\n", name, fishQuote(values[name]))
		default:
			line = fmt.Sprintf("export %s=%s\n", name, posixQuote(values[name]))
		}
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Unset writes the statements that remove names from the shell. It needs
// nothing but the names.
func Unset(w io.Writer, format Format, names []string) error {
	if format == Dotenv {
		return errors.ValidationError("Unsetting variables", "format", string(format), "posix or fish (dotenv has no unset form)")
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		line := "unset " + name + "\n"
		if format == Fish {
			line = "set -e " + name + "\n"
		}
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// marshalDotenv defers to godotenv, except for integers godotenv would
// reformat ("007", "+1"), which are quoted as is.
func marshalDotenv(values map[string]string) (string, error) {
	plain := make(map[string]string, len(values))
	var lines []string
	for name, v := range values {
		if n, err := strconv.Atoi(v); err == nil && strconv.Itoa(n) != v {
			lines = append(lines, fmt.Sprintf("%s=%q", name, v))
			continue
		}
		plain[name] = v
	}

	if len(plain) > 0 {
		out, err := godotenv.Marshal(plain)
		if err != nil {
			return "", fmt.Errorf("format dotenv: %w", err)
		}
		lines = append(lines, strings.Split(out, "\n")...)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

// posixQuote wraps v in single quotes; an embedded quote becomes '\''.
func posixQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// fishQuote uses fish single quotes, where only \ and ' are escaped.
func fishQuote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func sortedNames(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
