// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pacs loads the PACS domain generalization dataset: the same 7 classes of objects
// drawn from 4 visual domains (photo, art painting, cartoon and sketch).
//
// Each domain is a folder-labeled image collection (one sub-directory per class), loaded with
// NewImageFolder and batched with NewLoader.
package pacs

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Domain is one of the 4 visual domains of PACS.
type Domain int

const (
	Photo Domain = iota
	ArtPainting
	Cartoon
	Sketch
)

// AllDomains in the order of the dataset's name.
var AllDomains = []Domain{Photo, ArtPainting, Cartoon, Sketch}

var domainDirs = []string{"photo", "art_painting", "cartoon", "sketch"}

// Classes of PACS, in the order of their indices.
var Classes = []string{"dog", "elephant", "giraffe", "guitar", "horse", "house", "person"}

// NumClasses in PACS.
const NumClasses = 7

// String returns the name of the domain, which is also its directory name.
func (d Domain) String() string {
	if d < 0 || int(d) >= len(domainDirs) {
		return "unknown"
	}
	return domainDirs[d]
}

// ParseDomain converts a name to a Domain. It accepts the directory name ("art_painting"),
// or the short forms "art" and "art painting".
func ParseDomain(name string) (Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "art" {
		return ArtPainting, nil
	}
	for ii, dir := range domainDirs {
		if dir == name {
			return Domain(ii), nil
		}
	}
	return 0, errors.Errorf("unknown PACS domain %q, valid values are %q", name, domainDirs)
}

var (
	// DownloadURL of the archive with the PACS images.
	DownloadURL = "https://github.com/MachineLearning2020/Homework3-PACS/archive/refs/heads/master.zip"

	// LocalZipFile is the name of the downloaded archive, in the data directory.
	LocalZipFile = "Homework3-PACS-master.zip"

	// LocalDir is the directory where the archive is unzipped, in the data directory.
	LocalDir = "Homework3-PACS-master"
)

// DomainDir returns the directory with the images of the domain, given the data directory.
func DomainDir(dataDir string, domain Domain) string {
	return filepath.Join(dataDir, LocalDir, "PACS", domain.String())
}

// LoadDomain creates the ImageFolder for the domain, given the data directory.
func LoadDomain(dataDir string, domain Domain) (*ImageFolder, error) {
	ds, err := NewImageFolder(DomainDir(dataDir, domain))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading PACS domain %s", domain)
	}
	return ds, nil
}
