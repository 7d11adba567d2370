// Package core defines the domain types shared by the review pipeline:
// work items, findings, results, and the tagged error vocabulary. The types
// here are deliberately free of transport or storage concerns so every other
// package can depend on them without cycles.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// FileStatus is the change kind GitHub reports for a file in a pull request.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// ChangedFile is one file touched by a pull request. Patch may be empty for
// binary files or very large diffs where GitHub omits it.
type ChangedFile struct {
	Filename  string
	Status    FileStatus
	Additions int
	Deletions int
	Patch     string
}

// ReviewItem is one unit of review work, rebuilt every run from live
// queries. It is never persisted; only its canonical hash is.
type ReviewItem struct {
	Owner      string
	Repo       string
	PRNumber   int
	PRTitle    string
	Author     string
	BaseBranch string
	HeadCommit string
	Labels     []string
	Files      []ChangedFile
}

// FullName returns the owner/repo slug for logging and storage keys.
func (r *ReviewItem) FullName() string {
	return r.Owner + "/" + r.Repo
}

// CanonicalHash derives the change-detection identity of the item:
// sha256 over the head commit and the sorted set of changed filenames.
// Diff content is intentionally excluded — the head commit already changes
// whenever content changes, so identity stays commit-granular.
func (r *ReviewItem) CanonicalHash() string {
	names := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		names = append(names, f.Filename)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(r.HeadCommit))
	h.Write([]byte("\n"))
	h.Write([]byte(strings.Join(names, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
