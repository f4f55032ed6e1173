package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	mantis "github.com/goliatone/go-mantis"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	sourceLabel = "mantis"
	rootPath    = "data/sql/migrations"
)

// FilesystemSpec is one dialect's migration directory. Versions lists the
// migration names (file name without .up.sql) in apply order.
type FilesystemSpec struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		var next []string
		for _, target := range targets {
			target = strings.ToLower(strings.TrimSpace(target))
			if target != "" && !slices.Contains(next, target) {
				next = append(next, target)
			}
		}
		if len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// Filesystems resolves the postgres tree and its sqlite mirror from the
// embedded schema, or from source when given. Both dialects must carry the
// same versions and every up file needs its down file.
func Filesystems(source ...fs.FS) ([]FilesystemSpec, error) {
	root := mantis.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		root = source[0]
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(rootPath, DialectSQLite), FS: sqliteFS},
	}
	for i := range filesystems {
		versions, err := pairedVersions(filesystems[i])
		if err != nil {
			return nil, err
		}
		filesystems[i].Versions = versions
	}
	if !slices.Equal(filesystems[0].Versions, filesystems[1].Versions) {
		return nil, fmt.Errorf("migrations: postgres versions %v and sqlite versions %v diverge",
			filesystems[0].Versions, filesystems[1].Versions)
	}
	return filesystems, nil
}

// Register hands each targeted dialect filesystem to registerFn, usually a
// go-persistence-bun client's RegisterSQLMigrations.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       sourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, target := range reg.ValidationTargets {
		if target != DialectPostgres && target != DialectSQLite {
			return reg, fmt.Errorf("migrations: unsupported dialect %q", target)
		}
	}
	for _, fsys := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, reg.SourceLabel, fsys.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
	}
	return reg, nil
}

func pairedVersions(dir FilesystemSpec) ([]string, error) {
	ups, err := fs.Glob(dir.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s %s: %w", dir.Dialect, dir.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", dir.Dialect, dir.Path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(dir.FS, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s migration %s has no down file", dir.Dialect, version)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions, nil
}
