package refdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/packgc/packgc/internal/oid"
)

// refsTable is owned by the service operating the ref namespace (fetch,
// push, transaction machinery); this package only ever reads it.
const refsTable = "packgc_refs"

// Postgres is a ref-db backed by a table of named ref rows. It satisfies
// DB by reading the full ref set on Refresh and serving GetRefs /
// GetAdditionalRefs from that snapshot, matching the "read once per run"
// contract the ref set collector depends on.
type Postgres struct {
	db            *sql.DB
	refTreePrefix string
	snapshot      []Ref
}

// NewPostgres constructs a Postgres-backed ref-db. refTreePrefix names the
// reserved namespace ref-tree (transactional) refs live under, e.g.
// "refs/meta/".
func NewPostgres(db *sql.DB, refTreePrefix string) *Postgres {
	return &Postgres{db: db, refTreePrefix: refTreePrefix}
}

func (p *Postgres) Refresh(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT name, target, peeled, peeled_set, symbolic, sym_target FROM %s`, refsTable))
	if err != nil {
		return fmt.Errorf("refdb/postgres: refresh: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot []Ref
	for rows.Next() {
		var r Ref
		var target, peeled, symTarget string
		if err := rows.Scan(&r.Name, &target, &peeled, &r.PeeledSet, &r.Symbolic, &symTarget); err != nil {
			return fmt.Errorf("refdb/postgres: scan ref row: %w", err)
		}
		if target != "" {
			o, err := oid.Parse(target)
			if err != nil {
				return fmt.Errorf("refdb/postgres: ref %s target: %w", r.Name, err)
			}
			r.Target = o
		}
		if r.PeeledSet {
			o, err := oid.Parse(peeled)
			if err != nil {
				return fmt.Errorf("refdb/postgres: ref %s peeled: %w", r.Name, err)
			}
			r.Peeled = o
		}
		r.SymTarget = symTarget
		snapshot = append(snapshot, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("refdb/postgres: iterate refs: %w", err)
	}

	p.snapshot = snapshot
	return nil
}

func (p *Postgres) GetRefs(ctx context.Context) ([]Ref, error) {
	var out []Ref
	for _, r := range p.snapshot {
		if strings.HasPrefix(r.Name, headsPrefix) || strings.HasPrefix(r.Name, tagsPrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Postgres) GetAdditionalRefs(ctx context.Context) ([]Ref, error) {
	var out []Ref
	for _, r := range p.snapshot {
		if !strings.HasPrefix(r.Name, headsPrefix) && !strings.HasPrefix(r.Name, tagsPrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Postgres) IsRefTree(name string) bool {
	return p.refTreePrefix != "" && strings.HasPrefix(name, p.refTreePrefix)
}
