// Package domain holds the plugin identity, descriptor and record types shared
// by the scanner, the registry backends and the plugin manager. It must not
// depend on any internal package.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies a plugin across the filesystem and the registry.
type Key struct {
	Type string `json:"type" yaml:"type"`
	Name string `json:"name" yaml:"name"`
}

// NewKey builds a key from its parts.
func NewKey(pluginType, name string) Key {
	return Key{Type: pluginType, Name: name}
}

func (k Key) String() string {
	return k.Type + "/" + k.Name
}

// Validate rejects keys that cannot map to exactly one directory below the
// plugin root.
func (k Key) Validate() error {
	if err := validatePart("type", k.Type); err != nil {
		return err
	}
	return validatePart("name", k.Name)
}

func validatePart(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidKey, field)
	}
	if v == "." || strings.Contains(v, "..") || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("%w: %s %q", ErrInvalidKey, field, v)
	}
	return nil
}

// Descriptor is a plugin manifest as found on disk. It is rebuilt on every
// scan and never persisted.
type Descriptor struct {
	Type         string `json:"type" yaml:"type"`
	Name         string `json:"name" yaml:"name"`
	Version      string `json:"version" yaml:"version"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	ManifestPath string `json:"manifestPath" yaml:"manifestPath"`
}

// Key returns the descriptor identity.
func (d Descriptor) Key() Key { return Key{Type: d.Type, Name: d.Name} }

// Record is the persisted proof that a plugin is installed.
type Record struct {
	Type        string    `json:"type" yaml:"type"`
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	InstalledAt time.Time `json:"installedAt" yaml:"installedAt"`
}

// Key returns the record identity.
func (r Record) Key() Key { return Key{Type: r.Type, Name: r.Name} }

// Installed maps type -> name -> record.
type Installed map[string]map[string]Record

// Add stores rec under its key, creating the type bucket when needed.
func (i Installed) Add(rec Record) {
	byName, ok := i[rec.Type]
	if !ok {
		byName = make(map[string]Record)
		i[rec.Type] = byName
	}
	byName[rec.Name] = rec
}

// Lookup returns the record for key, if any.
func (i Installed) Lookup(key Key) (Record, bool) {
	rec, ok := i[key.Type][key.Name]
	return rec, ok
}

// Keys returns every key present in the snapshot.
func (i Installed) Keys() []Key {
	var keys []Key
	for t, byName := range i {
		for n := range byName {
			keys = append(keys, Key{Type: t, Name: n})
		}
	}
	return keys
}

// Len reports the number of records.
func (i Installed) Len() int {
	n := 0
	for _, byName := range i {
		n += len(byName)
	}
	return n
}

// ScanWarning reports a manifest that was skipped during a full scan.
type ScanWarning struct {
	Key  Key
	Path string
	Err  error
}

func (w ScanWarning) String() string {
	return fmt.Sprintf("%s (%s): %v", w.Key, w.Path, w.Err)
}
