package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
	sqlFileRe      = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTableRe  = regexp.MustCompile(`(?is)CREATE TABLE (?:IF NOT EXISTS )?([a-z0-9_]+)\s*\((.*?)\n\);`)
	enableRLSRe    = regexp.MustCompile(`(?i)ALTER TABLE ([a-z0-9_]+) ENABLE ROW LEVEL SECURITY`)
)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<name>.sql. The version must sort after every
// existing migration in dir.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	safe = strings.Trim(nameSanitizeRe.ReplaceAllString(safe, "_"), "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version := now.UTC().Format("20060102150405")
	files, err := migrationFiles(dir)
	if err != nil {
		return "", err
	}
	if n := len(files); n > 0 && files[n-1].version >= version {
		return "", fmt.Errorf("version %s does not sort after latest migration %s", version, files[n-1].name)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))
	if err := os.WriteFile(fullpath, []byte(fmt.Sprintf(migrationTemplate, safe)), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

// ValidateDir checks migration filenames and goose markers, and that every
// table with a tenant_id column has row-level security enabled by some
// migration in dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	tenantTables := map[string]string{}
	protected := map[string]bool{}
	seen := map[string]string{}
	for _, f := range files {
		if prev, ok := seen[f.version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", f.version, prev, f.name)
		}
		seen[f.version] = f.name

		b, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			return fmt.Errorf("read file %q: %w", f.name, err)
		}
		up, _, ok := strings.Cut(string(b), "-- +goose Down")
		if !ok {
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", f.name)
		}
		if !strings.Contains(up, "-- +goose Up") {
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", f.name)
		}
		if strings.Count(string(b), "-- +goose StatementBegin") != strings.Count(string(b), "-- +goose StatementEnd") {
			return fmt.Errorf("migration %q has unbalanced statement markers", f.name)
		}

		for _, m := range createTableRe.FindAllStringSubmatch(up, -1) {
			if strings.Contains(m[2], "tenant_id") {
				tenantTables[strings.ToLower(m[1])] = f.name
			}
		}
		for _, m := range enableRLSRe.FindAllStringSubmatch(up, -1) {
			protected[strings.ToLower(m[1])] = true
		}
	}

	var missing []string
	for table := range tenantTables {
		if !protected[table] {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("tenant tables without row level security: %s", strings.Join(missing, ", "))
	}
	return nil
}

type migrationFile struct {
	version string
	name    string
}

func migrationFiles(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name())
		}
		files = append(files, migrationFile{version: m[1], name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
