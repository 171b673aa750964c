package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migrations holds the bundled schema migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// BundledMigrations returns the embedded migration directory.
func BundledMigrations() fs.FS {
	sub, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned SQL file with its placeholders expanded.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// ParseMigrations reads every migration file at the root of fsys, sorted by
// version. {{PROJECT_ID}}, {{DATASET_ID}} and {{TABLE_ID}} are replaced from
// ref. The checksum covers the file as written, so the same migration applied
// to another dataset keeps its checksum.
func ParseMigrations(fsys fs.FS, ref TableRef) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("ParseMigrations: reading directory: %w", err)
	}

	seen := map[int]string{}
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("ParseMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("ParseMigrations: reading %s: %w", entry.Name(), err)
		}

		sql := strings.NewReplacer(
			"{{PROJECT_ID}}", ref.ProjectID,
			"{{DATASET_ID}}", ref.DatasetID,
			"{{TABLE_ID}}", ref.TableID,
		).Replace(string(content))

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// PendingMigrations splits migrations into those not yet applied and those
// applied with a different checksum.
func PendingMigrations(migrations []Migration, applied []AppliedMigration) (pending, drifted []Migration) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			drifted = append(drifted, m)
		}
	}
	return pending, drifted
}

// Migrator applies migrations to one dataset and records them in
// schema_migrations.
type Migrator struct {
	client    *bigquery.Client
	ref       TableRef
	appliedBy string
	log       zerolog.Logger
}

func NewMigrator(client *bigquery.Client, ref TableRef, appliedBy string, log zerolog.Logger) *Migrator {
	return &Migrator{client: client, ref: ref, appliedBy: appliedBy, log: log}
}

func (m *Migrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", m.ref.ProjectID, m.ref.DatasetID)
}

// Apply runs every pending migration in order. With dryRun set it only
// reports what would run. It returns the migrations applied (or pending).
func (m *Migrator) Apply(ctx context.Context, migrations []Migration, dryRun bool) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	pending, drifted := PendingMigrations(migrations, applied)
	for _, d := range drifted {
		m.log.Warn().Int("version", d.Version).Str("name", d.Name).Msg("Applied migration has changed since it ran")
	}

	m.log.Info().Int("applied", len(applied)).Int("pending", len(pending)).Msg("Migration status")

	if dryRun {
		for _, mig := range pending {
			m.log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Migration pending")
		}
		return pending, nil
	}

	var done []Migration
	for _, mig := range pending {
		log := m.log.With().Int("version", mig.Version).Str("name", mig.Name).Logger()
		log.Info().Msg("Applying migration")

		if _, err := runDML(ctx, m.client.Query(mig.SQL)); err != nil {
			return done, fmt.Errorf("Migrator.Apply: %04d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return done, fmt.Errorf("Migrator.Apply: recording %04d_%s: %w", mig.Version, mig.Name, err)
		}
		done = append(done, mig)
	}
	return done, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	dataset := fmt.Sprintf("`%s.%s`", m.ref.ProjectID, m.ref.DatasetID)
	if _, err := runDML(ctx, m.client.Query(`CREATE SCHEMA IF NOT EXISTS `+dataset)); err != nil {
		return fmt.Errorf("Migrator: creating dataset: %w", err)
	}

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.table())
	if _, err := runDML(ctx, m.client.Query(sql)); err != nil {
		return fmt.Errorf("Migrator: creating schema_migrations: %w", err)
	}
	return nil
}

// Applied lists the recorded migrations by version.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.table())

	it, err := m.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Migrator.Applied: reading: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Migrator.Applied: iterating: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *Migrator) record(ctx context.Context, mig Migration) error {
	q := m.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	_, err := runDML(ctx, q)
	return err
}
