package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Bundle is the on-disk shape a canonical resource file is decoded into:
// a flat array of profiles and a flat array of search parameters. Files are
// plain JSON rather than FHIR Bundle envelopes since nothing downstream of
// the registry needs the envelope, only the two arrays it carries.
type Bundle struct {
	Profiles     []CanonicalProfile `json:"profiles"`
	SearchParams []SearchParam      `json:"searchParams"`
}

// LoadDirectory reads every *.json file in dir (non-recursively, in
// lexical order for determinism), decodes each as a Bundle, and indexes its
// contents. It does not seal the registry — callers add further profiles or
// call Seal() once every directory and in-code registration is done.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read canonical directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := r.LoadFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFile decodes a single canonical bundle file and indexes its contents.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("decode canonical bundle: %w", err)
	}

	for _, p := range bundle.Profiles {
		r.AddProfile(p)
	}
	for _, sp := range bundle.SearchParams {
		r.AddSearchParam(sp)
	}
	return nil
}
