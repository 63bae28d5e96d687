package discover

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"namesub/internal/store"
)

func col(name, typ string) store.ColumnMeta {
	return store.ColumnMeta{Name: name, DataType: typ, Nullable: true}
}

func sampleOf(columns []string, rows ...[]any) store.Sample {
	return store.Sample{Columns: columns, Rows: rows}
}

func TestDiscover_FindsGenderAndNameColumns(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{
		col("id", "int"),
		col("gender", "enum('m','f')"),
		col("first_name", "varchar(64)"),
		col("last_name", "varchar(64)"),
		col("balance", "decimal(10,2)"),
	}
	sample := sampleOf(
		[]string{"id", "gender", "first_name", "last_name", "balance"},
		[]any{int64(1), "m", "Bob", "Smith", "10.00"},
		[]any{int64(2), "f", "Alice", "Jones", "11.00"},
		[]any{int64(3), "F", "Carol", "White", "12.00"},
	)

	res := Discover(cols, sample)
	if !reflect.DeepEqual(res.GenderCandidates, []string{"gender"}) {
		t.Fatalf("gender candidates = %v, want [gender]", res.GenderCandidates)
	}
	if !reflect.DeepEqual(res.NameCandidates, []string{"first_name", "last_name"}) {
		t.Fatalf("name candidates = %v, want [first_name last_name]", res.NameCandidates)
	}
}

func TestDiscover_NumericGenderEncoding(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{col("sex", "tinyint")}
	sample := sampleOf([]string{"sex"},
		[]any{int64(1)}, []any{int64(2)}, []any{int64(1)}, []any{nil})

	res := Discover(cols, sample)
	if !reflect.DeepEqual(res.GenderCandidates, []string{"sex"}) {
		t.Fatalf("gender candidates = %v, want [sex]", res.GenderCandidates)
	}
}

func TestDiscover_OutOfVocabularyValueDisqualifies(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{col("status", "varchar(16)")}
	// "m" and "f" appear, but so does "pending": not a gender column.
	sample := sampleOf([]string{"status"},
		[]any{"m"}, []any{"f"}, []any{"pending"})

	res := Discover(cols, sample)
	if len(res.GenderCandidates) != 0 {
		t.Fatalf("gender candidates = %v, want none", res.GenderCandidates)
	}
}

func TestDiscover_SingleTokenColumnNotProposed(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{col("flag", "char(1)")}
	sample := sampleOf([]string{"flag"}, []any{"m"}, []any{"m"}, []any{"M"})

	res := Discover(cols, sample)
	if len(res.GenderCandidates) != 0 {
		t.Fatalf("gender candidates = %v, want none for single-token column", res.GenderCandidates)
	}
}

func TestDiscover_NameColumnNeedsStringType(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{
		col("first_name_id", "int"),
		col("nombre", "text"),
	}
	res := Discover(cols, sampleOf([]string{"first_name_id", "nombre"}))
	if !reflect.DeepEqual(res.NameCandidates, []string{"nombre"}) {
		t.Fatalf("name candidates = %v, want [nombre]", res.NameCandidates)
	}
}

func TestDiscover_EmptySampleMeansNoGenderCandidates(t *testing.T) {
	t.Parallel()

	cols := []store.ColumnMeta{col("gender", "varchar(8)")}
	res := Discover(cols, sampleOf([]string{"gender"}))
	if len(res.GenderCandidates) != 0 {
		t.Fatalf("gender candidates = %v, want none without sample rows", res.GenderCandidates)
	}
}

// metaStore stubs the two read operations Inspect uses.
type metaStore struct {
	store.Store

	cols    []store.ColumnMeta
	colsErr error
	sample  store.Sample
}

func (m *metaStore) TableColumns(context.Context, string) ([]store.ColumnMeta, error) {
	return m.cols, m.colsErr
}

func (m *metaStore) SampleRows(context.Context, string, []string, int) (store.Sample, error) {
	return m.sample, nil
}

func TestInspect_WrapsMetadataFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("no such table")
	_, err := Inspect(context.Background(), &metaStore{colsErr: boom}, "missing", 10)

	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if de.Table != "missing" || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped metadata failure for table missing", err)
	}
}

func TestInspect_RunsHeuristicsOnSample(t *testing.T) {
	t.Parallel()

	st := &metaStore{
		cols: []store.ColumnMeta{col("gender", "char(1)"), col("full_name", "varchar(128)")},
		sample: sampleOf([]string{"gender", "full_name"},
			[]any{"m", "Bob Smith"}, []any{"f", "Alice Jones"}),
	}
	res, err := Inspect(context.Background(), st, "customers", 0)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !reflect.DeepEqual(res.GenderCandidates, []string{"gender"}) {
		t.Fatalf("gender candidates = %v, want [gender]", res.GenderCandidates)
	}
	if !reflect.DeepEqual(res.NameCandidates, []string{"full_name"}) {
		t.Fatalf("name candidates = %v, want [full_name]", res.NameCandidates)
	}
}
