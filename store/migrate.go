package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one forward-only, idempotent-by-version schema change.
type migration struct {
	version    int
	name       string
	statements []string
}

// loadMigrations parses every embedded .sql file into an ordered list of
// migrations. File names must follow NNNN_description.sql.
func loadMigrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFilename(e.Name())
		if err != nil {
			return nil, err
		}
		raw, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}
		stmts, err := splitStatements(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: name, statements: stmts})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func parseMigrationFilename(fname string) (version int, name string, err error) {
	base := strings.TrimSuffix(fname, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("migration filename %q must be NNNN_description.sql", fname)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("migration filename %q has a non-numeric version: %w", fname, err)
	}
	return v, parts[1], nil
}

// splitStatements breaks a migration file into individually-executable SQL
// statements. A naive split on ';' breaks on compound statements such as
// triggers, whose bodies contain their own semicolon-terminated
// sub-statements between BEGIN and END. This tracks a compound-block depth
// that only increments/decrements on the BEGIN/END keywords and only
// treats ';' as a statement boundary at depth zero. Line comments ("--...")
// and block comments ("/* ... */") are stripped first so keywords or
// semicolons inside them are never mistaken for real syntax, and both
// string literal styles SQLite accepts ('...', "...") are skipped over
// verbatim so a ';' or keyword inside a literal is never split on either.
func splitStatements(src string) ([]string, error) {
	src = stripSQLComments(src)

	var statements []string
	var cur strings.Builder
	depth := 0
	i := 0
	n := len(src)

	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		cur.Reset()
	}

	for i < n {
		c := src[i]

		switch c {
		case '\'', '"':
			lit, consumed := readQuoted(src[i:], c)
			cur.WriteString(lit)
			i += consumed
			continue
		case ';':
			if depth == 0 {
				cur.WriteByte(c)
				flush()
				i++
				continue
			}
		}

		// Track BEGIN/END as whole words only, case-insensitive, so e.g.
		// "beginning_balance" never trips the depth counter.
		if word, ok := matchKeyword(src, i); ok {
			switch strings.ToUpper(word) {
			case "BEGIN":
				depth++
			case "END":
				if depth > 0 {
					depth--
				}
			}
			cur.WriteString(word)
			i += len(word)
			continue
		}

		cur.WriteByte(c)
		i++
	}

	if depth != 0 {
		return nil, fmt.Errorf("unterminated compound block (depth %d) near: %s", depth, excerpt(cur.String()))
	}
	flush()
	return statements, nil
}

// matchKeyword returns BEGIN/END if one starts at position i on a word
// boundary, so identifiers merely containing those letters are not matched.
func matchKeyword(src string, i int) (string, bool) {
	for _, kw := range []string{"BEGIN", "END"} {
		end := i + len(kw)
		if end > len(src) {
			continue
		}
		if !strings.EqualFold(src[i:end], kw) {
			continue
		}
		if i > 0 && isIdentByte(src[i-1]) {
			continue
		}
		if end < len(src) && isIdentByte(src[end]) {
			continue
		}
		return src[i:end], true
	}
	return "", false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// readQuoted consumes a quoted literal starting at s[0] (which must be the
// opening quote char), handling doubled-quote escaping ('' inside '...').
// Returns the literal text (including both quotes) and bytes consumed.
func readQuoted(s string, quote byte) (string, int) {
	var b strings.Builder
	b.WriteByte(quote)
	i := 1
	for i < len(s) {
		c := s[i]
		b.WriteByte(c)
		if c == quote {
			if i+1 < len(s) && s[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			i++
			break
		}
		i++
	}
	return b.String(), i
}

func stripSQLComments(src string) string {
	var b strings.Builder
	i := 0
	n := len(src)
	for i < n {
		if i+1 < n && src[i] == '-' && src[i+1] == '-' {
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		}
		if i+1 < n && src[i] == '/' && src[i+1] == '*' {
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
			continue
		}
		if src[i] == '\'' || src[i] == '"' {
			lit, consumed := readQuoted(src[i:], src[i])
			b.WriteString(lit)
			i += consumed
			continue
		}
		b.WriteByte(src[i])
		i++
	}
	return b.String()
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}

// Migrate applies every pending migration, each in its own transaction.
// A failing migration rolls back only itself and returns a MigrationFailed
// error naming the version and a bounded excerpt of the offending
// statement; already-applied migrations are untouched.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, vecTableSQL(s.embeddingDim)); err != nil {
		return fmt.Errorf("%w: creating vector table: %v", ErrCorrupt, err)
	}

	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: migration %d (%s), statement %q: %v",
				ErrMigrationFailed, m.version, m.name, excerpt(stmt), err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, unixepoch())",
		m.version); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: recording migration %d: %v", ErrMigrationFailed, m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing migration %d: %v", ErrMigrationFailed, m.version, err)
	}

	slog.Info("store: migration applied", "version", m.version, "name", m.name)
	return nil
}
