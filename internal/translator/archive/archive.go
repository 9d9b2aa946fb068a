// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive writes the JSON artifact of a completed workflow run to
// disk, one directory per poet. Archiving is best-effort: a failure becomes
// a task warning, never a task failure.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/translator/apperr"
	"github.com/OCboy5/vpsweb/internal/translator/models"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once

	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetArchiveLogger()
		log = &l
	})
	return log
}

// Archiver writes run artifacts beneath a root directory.
type Archiver struct {
	root string
}

// New creates an archiver rooted at dir.
func New(dir string) *Archiver {
	return &Archiver{root: dir}
}

// artifact is the on-disk shape of one archived run.
type artifact struct {
	PoemID     string                 `json:"poem_id"`
	PoetName   string                 `json:"poet_name"`
	SourceLang string                 `json:"source_lang"`
	TargetLang string                 `json:"target_lang"`
	Mode       string                 `json:"mode"`
	Result     *models.WorkflowResult `json:"result"`
}

// Archive writes the run as pretty-printed JSON under a per-poet directory
// and returns the file path. The filename derives from the run's start
// timestamp, never the wall clock, so re-archiving the same run always
// lands on the same path. The write goes through a temp file and rename so
// readers never observe a partial artifact. If the file already exists with
// byte-identical content the existing path is returned untouched.
func (a *Archiver) Archive(poetName string, input models.TranslationJobInput, result *models.WorkflowResult) (string, error) {
	dir := filepath.Join(a.root, sanitize(poetName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindArchive, "failed to create archive directory", err)
	}

	started := result.StartedAt.UTC()
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		input.PoemID, input.Mode, strings.ToLower(input.TargetLang), started.Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(artifact{
		PoemID:     input.PoemID,
		PoetName:   poetName,
		SourceLang: input.SourceLang,
		TargetLang: input.TargetLang,
		Mode:       input.Mode,
		Result:     result,
	}, "", "  ")
	if err != nil {
		return "", apperr.Wrap(apperr.KindArchive, "failed to encode archive artifact", err)
	}

	// Re-archiving the identical run is a no-op.
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, name+".tmp*")
	if err != nil {
		return "", apperr.Wrap(apperr.KindArchive, "failed to create temp archive file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", apperr.Wrap(apperr.KindArchive, "failed to write archive artifact", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", apperr.Wrap(apperr.KindArchive, "failed to close archive artifact", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", apperr.Wrap(apperr.KindArchive, "failed to move archive artifact into place", err)
	}

	getLog().Info().Str("path", path).Str("poem_id", input.PoemID).Msg("Archived workflow result")
	return path, nil
}

// sanitize turns a poet name into a safe directory name. Unicode letters
// survive so "李白" stays readable on disk.
func sanitize(name string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "unknown_poet"
	}
	return cleaned
}
