// Package manifest parses untrusted cargo manifests into normalized records.
package manifest

import (
	"sort"
	"strings"
)

// NullField marks an optional string that was absent or invalid.
const NullField = "none"

// UUIDLength is the minimum length of a cargo uuid.
const UUIDLength = 20

// LatestCrateVersion is the newest supported manifest schema version.
const LatestCrateVersion = "0.1.0"

// CrateVersions is the set of supported manifest schema versions.
var CrateVersions = map[string]bool{
	"0.1.0": true,
}

// ReservedIDs maps reserved cargo names to their reserved uuids.
var ReservedIDs = map[string]string{
	"std":      "cargo-std-standard-package",
	"launcher": "cargo-launcher-host-package",
}

// File is one entry of a cargo's file list.
type File struct {
	Name  string `json:"name" yaml:"name"`
	Bytes int64  `json:"bytes" yaml:"bytes"`
}

// Author is a cargo author.
type Author struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	URL   string `json:"url" yaml:"url"`
}

// Repo describes where the cargo's source lives.
type Repo struct {
	Type string `json:"type" yaml:"type"`
	URL  string `json:"url" yaml:"url"`
}

// Cargo is a fully defaulted manifest. Optional strings are NullField
// rather than empty, and slices are never nil.
type Cargo struct {
	UUID         string   `json:"uuid" yaml:"uuid"`
	CrateVersion string   `json:"crateVersion" yaml:"crateVersion"`
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Entry        string   `json:"entry" yaml:"entry"`
	Files        []File   `json:"files" yaml:"files"`
	Description  string   `json:"description" yaml:"description"`
	Authors      []Author `json:"authors" yaml:"authors"`
	CrateLogoURL string   `json:"crateLogoUrl" yaml:"crateLogoUrl"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
	License      string   `json:"license" yaml:"license"`
	Repo         Repo     `json:"repo" yaml:"repo"`
	HomepageURL  string   `json:"homepageUrl" yaml:"homepageUrl"`
}

// Default returns the record used as the starting point for validation.
func Default() *Cargo {
	return &Cargo{
		UUID:         NullField,
		CrateVersion: LatestCrateVersion,
		Name:         NullField,
		Version:      NullField,
		Entry:        "",
		Files:        []File{},
		Description:  NullField,
		Authors:      []Author{},
		CrateLogoURL: NullField,
		Keywords:     []string{},
		License:      NullField,
		Repo:         Repo{Type: NullField, URL: NullField},
		HomepageURL:  NullField,
	}
}

// TotalBytes sums the sizes of all files in the cargo.
func (c *Cargo) TotalBytes() int64 {
	var total int64
	for _, f := range c.Files {
		total += f.Bytes
	}
	return total
}

// IsReservedID reports whether id is one of the reserved uuids.
func IsReservedID(id string) bool {
	for _, v := range ReservedIDs {
		if v == id {
			return true
		}
	}
	return false
}

// IsReservedName reports whether name is one of the reserved names.
func IsReservedName(name string) bool {
	_, ok := ReservedIDs[name]
	return ok
}

func reservedIDList() string {
	ids := make([]string, 0, len(ReservedIDs))
	for _, v := range ReservedIDs {
		ids = append(ids, v)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func reservedNameList() string {
	names := make([]string, 0, len(ReservedIDs))
	for k := range ReservedIDs {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func crateVersionList() string {
	versions := make([]string, 0, len(CrateVersions))
	for v := range CrateVersions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return strings.Join(versions, ",")
}
