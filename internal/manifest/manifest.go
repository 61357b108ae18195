// Package manifest loads and normalizes effigy.toml catalog manifests.
// Both compact and full task forms are accepted in the same [tasks]
// mapping; normalization produces a uniform sequence of RunStep entries
// plus a policy envelope for every task, regardless of which surface form
// the author used.
package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"effigy/internal/effigyerr"
)

// CanonicalName is the canonical manifest filename. FallbackName is
// recognized only when CanonicalName is absent from the same directory.
const (
	CanonicalName = "effigy.toml"
	FallbackName  = "effigy.tasks.toml"
)

// RawManifest is the direct TOML decode target, one level above
// normalization.
type RawManifest struct {
	Catalog struct {
		Alias string `toml:"alias"`
	} `toml:"catalog"`

	PackageManager struct {
		JS string `toml:"js"`
	} `toml:"package_manager"`

	Test struct {
		MaxParallel int               `toml:"max_parallel"`
		Suites      map[string]string `toml:"suites"`
		// Runners entries are heterogeneous ("<command>" or
		// { command = "<command>" }); go-toml/v2 has no per-type
		// unmarshaler hook, so they decode as plain values and are shaped
		// by normalize.
		Runners map[string]any `toml:"runners"`
	} `toml:"test"`

	Defer struct {
		Run string `toml:"run"`
	} `toml:"defer"`

	Shell struct {
		Run string `toml:"run"`
	} `toml:"shell"`

	// Tasks entries mix compact strings, sequences, and full tables in the
	// same mapping; decoded as plain values and shaped by decodeTaskDef.
	Tasks map[string]any `toml:"tasks"`
}

// decodeRunner accepts a [test.runners] entry in either "<command>" or
// { command = "<command>" } form.
func decodeRunner(name string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]any:
		if cmd, ok := v["command"].(string); ok {
			return cmd, nil
		}
		return "", effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("test.runners.%s: table form requires a command key", name))
	default:
		return "", effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("test.runners.%s: must be a string or a table with a command key", name))
	}
}

// Load parses and normalizes the manifest at path. Unknown keys fail
// decode via go-toml/v2's DisallowUnknownFields, which reports the
// offending dotted key path in its error text.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, effigyerr.Wrap(effigyerr.ManifestParse, fmt.Sprintf("read manifest %s", path), err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses manifest content already read from path (or a synthetic
// source, for tests).
func LoadBytes(data []byte, path string) (*Catalog, error) {
	var raw RawManifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		var serr *toml.StrictMissingError
		if asStrictMissing(err, &serr) {
			return nil, effigyerr.Wrap(effigyerr.ManifestSchema,
				fmt.Sprintf("unknown key in manifest %s", path), err)
		}
		return nil, effigyerr.Wrap(effigyerr.ManifestParse, fmt.Sprintf("parse manifest %s", path), err)
	}

	return normalize(&raw, path)
}

func asStrictMissing(err error, target **toml.StrictMissingError) bool {
	if e, ok := err.(*toml.StrictMissingError); ok {
		*target = e
		return true
	}
	return false
}
