package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/apperr"
)

// AssetService owns the per-section evidence directories under
// <root>/sections/<SectionId>/. Each directory belongs exclusively to its
// section.
type AssetService struct {
	root   string
	logger zerolog.Logger
}

// NewAssetService roots the asset tree at the given directory.
func NewAssetService(root string, logger zerolog.Logger) *AssetService {
	return &AssetService{
		root:   root,
		logger: logger.With().Str("component", "asset_service").Logger(),
	}
}

// Dir returns the asset directory for a section.
func (s *AssetService) Dir(sectionID uuid.UUID) string {
	return filepath.Join(s.root, sectionID.String())
}

// Path resolves a stored filename inside a section's directory. The name is
// sanitised again so a crafted name can never escape the directory.
func (s *AssetService) Path(sectionID uuid.UUID, name string) (string, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir(sectionID), clean), nil
}

// Save writes an uploaded file into the section's directory. On a name
// collision an increasing integer is appended before the extension until the
// name is unique: a.png, a0.png, a1.png. Returns the stored filename.
func (s *AssetService) Save(sectionID uuid.UUID, name string, r io.Reader) (string, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}

	dir := s.Dir(sectionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Backend("creating asset directory", err)
	}

	stored := clean
	ext := filepath.Ext(clean)
	stem := strings.TrimSuffix(clean, ext)

	// Exclusive create so concurrent uploads of the same name cannot land
	// on the same path; an existing file bumps the suffix and retries.
	var dst *os.File
	for i := 0; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			dst = f
			break
		}
		if !os.IsExist(err) {
			return "", apperr.Backend("creating asset file", err)
		}
		stored = fmt.Sprintf("%s%d%s", stem, i, ext)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		_ = os.Remove(filepath.Join(dir, stored))
		return "", apperr.Backend("writing asset file", err)
	}

	if mt, err := mimetype.DetectFile(filepath.Join(dir, stored)); err == nil {
		s.logger.Info().
			Str("section", sectionID.String()).
			Str("file", stored).
			Str("type", mt.String()).
			Msg("asset stored")
	}

	return stored, nil
}

// DeleteFile removes one file from the section's directory. Idempotent.
func (s *AssetService) DeleteFile(sectionID uuid.UUID, name string) error {
	path, err := s.Path(sectionID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Backend("removing asset file", err)
	}
	return nil
}

// List returns the stored filenames for a section, sorted.
func (s *AssetService) List(sectionID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(sectionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Backend("listing asset directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveDir recursively deletes the section's asset directory. Idempotent.
func (s *AssetService) RemoveDir(sectionID uuid.UUID) error {
	if err := os.RemoveAll(s.Dir(sectionID)); err != nil {
		return apperr.Backend("removing asset directory", err)
	}
	return nil
}

// OrphanDirs returns SectionIds of asset directories whose section row no
// longer exists, as decided by the exists predicate.
func (s *AssetService) OrphanDirs(exists func(uuid.UUID) bool) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Backend("listing asset root", err)
	}

	var orphans []uuid.UUID
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		if !exists(id) {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// SanitizeFilename strips any path components and every character outside
// the accepted set, rejecting names with nothing left.
func SanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		}
	}

	clean := strings.TrimSpace(b.String())
	if clean == "" || strings.Trim(clean, ".") == "" {
		return "", apperr.Invalid("invalid filename")
	}
	return clean, nil
}
