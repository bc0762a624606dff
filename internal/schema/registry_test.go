package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_DescribeKnownTables(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	want := []string{
		"player_rankings",
		"player_identity",
		"player_aliases",
		"charts",
		"songs",
		"import_metadata",
	}
	require.Equal(t, want, r.Tables())

	for _, table := range want {
		desc, err := r.Describe(table)
		require.NoError(t, err)
		require.Equal(t, table, desc.Table)
		require.NotEmpty(t, desc.Columns)
	}
}

func TestRegistry_DescribeUnknownTable(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Describe("sqlite_master")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestColumn_OperatorAllowList(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	desc, err := r.Describe("player_rankings")
	require.NoError(t, err)

	score, ok := desc.Column("score")
	require.True(t, ok)
	require.Equal(t, TypeInteger, score.Type)
	require.True(t, score.Allows(OpBetween))
	require.True(t, score.Allows(OpGreaterThan))
	require.False(t, score.Allows(OpLike))

	judge, ok := desc.Column("judge")
	require.True(t, ok)
	require.Equal(t, TypeText, judge.Type)
	require.True(t, judge.Allows(OpLike))
	require.False(t, judge.Allows(OpBetween))
	require.False(t, judge.Allows(OpLessThan))
}

func TestOperator_Arity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2, OpBetween.Arity())
	require.Equal(t, -1, OpIn.Arity())
	require.Equal(t, 1, OpEquals.Arity())
	require.Equal(t, 1, OpLike.Arity())
}

func TestColumnType_Orderable(t *testing.T) {
	t.Parallel()

	require.True(t, TypeInteger.Orderable())
	require.True(t, TypeReal.Orderable())
	require.True(t, TypeTimestamp.Orderable())
	require.False(t, TypeText.Orderable())
}

func TestDescriptor_ColumnNamesOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	desc, err := r.Describe("songs")
	require.NoError(t, err)
	require.Equal(t, []string{"sid", "title", "artist", "cover_url", "last_updated"}, desc.ColumnNames())
}
