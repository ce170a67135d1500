package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the row proposed for insertion inside ON CONFLICT DO UPDATE.
// PostgreSQL and SQLite both spell it EXCLUDED.
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate appends ON CONFLICT (...) DO UPDATE SET col = EXCLUDED.col for each column in set.
func (b *InsertBuilder) OnConflictUpdate(conflict []string, set ...string) *InsertBuilder {
	assignments := make([]string, 0, len(set))
	for _, col := range set {
		assignments = append(assignments, fmt.Sprintf("%s = %s", col, Excluded(col)))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(assignments, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing(conflict ...string) *InsertBuilder {
	if len(conflict) == 0 {
		b.SQL("ON CONFLICT DO NOTHING")
		return b
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", ")))
	return b
}

func NewUpdateBuilder(flavor sqlbuilder.Flavor) *sqlbuilder.UpdateBuilder {
	return flavor.NewUpdateBuilder()
}

func NewDeleteBuilder(flavor sqlbuilder.Flavor) *sqlbuilder.DeleteBuilder {
	return flavor.NewDeleteBuilder()
}

func NewSelectBuilder(flavor sqlbuilder.Flavor) *sqlbuilder.SelectBuilder {
	return flavor.NewSelectBuilder()
}

// Struct builds statements from a model's `db` tags in the store's dialect.
type Struct struct {
	*sqlbuilder.Struct
}

func NewStruct(v any, flavor sqlbuilder.Flavor) *Struct {
	return &Struct{sqlbuilder.NewStruct(v).For(flavor)}
}

func (s *Struct) InsertInto(table string, v ...any) *InsertBuilder {
	return &InsertBuilder{s.Struct.InsertInto(table, v...)}
}
