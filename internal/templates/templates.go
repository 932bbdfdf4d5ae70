// Package templates keeps managed copies of placeholder-bearing files and
// renders them back to their original locations.
package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/brizzbuzz/oploader/internal/config"
	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/fsutil"
	"github.com/brizzbuzz/oploader/internal/validation"
)

// {{NAME}} with optional spaces inside the braces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Z_][A-Z0-9_]*)\s*\}\}`)

// Record ties an original file to its managed copy.
type Record struct {
	Original     string
	Managed      string
	Placeholders []string
}

// Template is a record with the managed copy's current body.
type Template struct {
	Record
	Body []byte
}

// Discover returns the sorted, distinct placeholder names in body.
func Discover(body []byte) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllSubmatch(body, -1) {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every placeholder present in values in one pass;
// substituted text is never rescanned. Names with no value are returned
// sorted and their tokens are left as is.
func Substitute(body []byte, values map[string]string) ([]byte, []string) {
	missing := make(map[string]bool)
	out := placeholderPattern.ReplaceAllFunc(body, func(tok []byte) []byte {
		name := string(placeholderPattern.FindSubmatch(tok)[1])
		if v, ok := values[name]; ok {
			return []byte(v)
		}
		missing[name] = true
		return tok
	})

	var unresolved []string
	for name := range missing {
		unresolved = append(unresolved, name)
	}
	sort.Strings(unresolved)
	return out, unresolved
}

type Manager struct {
	root      string
	validator *validation.Validator
}

func NewManager(root string) *Manager {
	return &Manager{root: root, validator: validation.NewValidator()}
}

func (m *Manager) Root() string { return m.root }

// ManagedPath names the copy for an absolute original path. The hash prefix
// keeps same-named files from different directories apart.
func (m *Manager) ManagedPath(original string) string {
	sum := sha256.Sum256([]byte(original))
	return filepath.Join(m.root, hex.EncodeToString(sum[:])[:12]+"-"+filepath.Base(original))
}

// Add snapshots path into the templates root. Adding an already managed
// file refreshes its copy.
func (m *Manager) Add(path string) (Record, error) {
	original, err := filepath.Abs(path)
	if err != nil {
		return Record{}, errors.FileOperationError("Adding template", path, "Cannot make path absolute", err)
	}
	if err := m.validator.ValidateTemplateTarget(original); err != nil {
		return Record{}, err
	}

	body, err := os.ReadFile(original)
	if err != nil {
		return Record{}, errors.FileOperationError("Adding template", original, "Failed to read file", err)
	}

	managed := m.ManagedPath(original)
	if err := fsutil.WriteFileAtomic(managed, body, 0600); err != nil {
		return Record{}, errors.FileOperationError("Adding template", managed, "Failed to write managed copy", err)
	}

	return Record{Original: original, Managed: managed, Placeholders: Discover(body)}, nil
}

// Remove deletes the managed copy. A copy that is already gone is fine.
func (m *Manager) Remove(rec Record) error {
	if err := os.Remove(rec.Managed); err != nil && !os.IsNotExist(err) {
		return errors.FileOperationError("Removing template", rec.Managed, "Failed to delete managed copy", err)
	}
	return nil
}

// Load reads the managed copy and rediscovers its placeholders, so edits
// made to the copy since Add are honored.
func (m *Manager) Load(rec Record) (*Template, error) {
	body, err := os.ReadFile(rec.Managed)
	if err != nil {
		return nil, errors.TemplateError("Loading template", rec.Managed, "Managed copy is unreadable", err)
	}
	rec.Placeholders = Discover(body)
	return &Template{Record: rec, Body: body}, nil
}

// Records lists the templated files in cfg, sorted by original path.
func Records(cfg *config.Config) []Record {
	records := make([]Record, 0, len(cfg.TemplatedFiles))
	for original, tf := range cfg.TemplatedFiles {
		records = append(records, Record{
			Original:     original,
			Managed:      tf.TemplatePath,
			Placeholders: append([]string(nil), tf.Vars...),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Original < records[j].Original })
	return records
}

// Lookup finds the record for path, which may be relative.
func Lookup(cfg *config.Config, path string) (Record, error) {
	original, err := filepath.Abs(path)
	if err != nil {
		return Record{}, errors.FileOperationError("Looking up template", path, "Cannot make path absolute", err)
	}
	tf, ok := cfg.TemplatedFiles[original]
	if !ok {
		return Record{}, errors.NotManagedError("Looking up template", original)
	}
	return Record{Original: original, Managed: tf.TemplatePath, Placeholders: append([]string(nil), tf.Vars...)}, nil
}

// Put stores rec in cfg's index.
func Put(cfg *config.Config, rec Record) {
	if cfg.TemplatedFiles == nil {
		cfg.TemplatedFiles = make(map[string]config.TemplatedFile)
	}
	cfg.TemplatedFiles[rec.Original] = config.TemplatedFile{
		TemplatePath: rec.Managed,
		Vars:         append([]string(nil), rec.Placeholders...),
	}
}

// Unknown returns the placeholders of rec that cfg has no inject_vars for.
func Unknown(cfg *config.Config, rec Record) []string {
	var unknown []string
	for _, name := range rec.Placeholders {
		if _, ok := cfg.InjectVars[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
