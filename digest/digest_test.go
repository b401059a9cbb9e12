package digest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nandor/ocamlfdo/digest"
)

func mustConfig(t *testing.T, kinds map[digest.Kind]bool, onMismatch, onMissing digest.Policy) digest.Config {
	t.Helper()
	cfg, err := digest.NewConfig(kinds, false, onMismatch, onMissing)
	require.NoError(t, err)
	return cfg
}

func TestConfigRequiresAKind(t *testing.T) {
	_, err := digest.NewConfig(map[digest.Kind]bool{digest.Function: false}, false, digest.Fail, digest.Fail)
	require.Error(t, err)

	_, err = digest.NewConfig(nil, false, digest.Fail, digest.Fail)
	require.Error(t, err)
}

func TestAddAndCheckAgree(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.Fail, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Function, "camlFoo_entry", []byte("mov $1, %rax\nret\n"))

	sum, err := r.Check(digest.Function, "camlFoo_entry", []byte("mov $1, %rax\nret\n"))
	require.NoError(t, err)
	require.Equal(t, digest.Sum([]byte("mov $1, %rax\nret\n")), sum)
}

func TestCheckMismatchFail(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.Fail, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Function, "camlFoo_entry", []byte("old body"))
	_, err := r.Check(digest.Function, "camlFoo_entry", []byte("new body"))
	require.Error(t, err)
}

func TestCheckMismatchSkipKeepsOld(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.Skip, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Function, "camlFoo_entry", []byte("old body"))
	sum, err := r.Check(digest.Function, "camlFoo_entry", []byte("new body"))
	require.NoError(t, err)
	require.Equal(t, digest.Sum([]byte("old body")), sum)
}

func TestCheckMismatchUseAnywayOverwrites(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.UseAnyway, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Function, "camlFoo_entry", []byte("old body"))
	sum, err := r.Check(digest.Function, "camlFoo_entry", []byte("new body"))
	require.NoError(t, err)
	require.Equal(t, digest.Sum([]byte("new body")), sum)

	got, ok := r.Lookup(digest.Function, "camlFoo_entry")
	require.True(t, ok)
	require.Equal(t, sum, got)
}

func TestCheckMissingFail(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Unit: true}, digest.Fail, digest.Fail)
	r := digest.NewRegistry(cfg)

	_, err := r.Check(digest.Unit, "foo.ml", []byte("unit text"))
	require.Error(t, err)
}

func TestCheckMissingUseAnywayRecords(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Unit: true}, digest.UseAnyway, digest.UseAnyway)
	r := digest.NewRegistry(cfg)

	sum, err := r.Check(digest.Unit, "foo.ml", []byte("unit text"))
	require.NoError(t, err)
	require.Equal(t, digest.Sum([]byte("unit text")), sum)
	require.Equal(t, 1, r.Len(digest.Unit))
}

func TestDisabledKindIsNoOp(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.Fail, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Unit, "foo.ml", []byte("text"))
	require.Equal(t, 0, r.Len(digest.Unit))

	sum, err := r.Check(digest.Unit, "foo.ml", []byte("text"))
	require.NoError(t, err)
	require.Equal(t, "", sum)
}

func TestTrimRemovesUnkeptKeys(t *testing.T) {
	cfg := mustConfig(t, map[digest.Kind]bool{digest.Function: true}, digest.Fail, digest.Fail)
	r := digest.NewRegistry(cfg)

	r.Add(digest.Function, "hot", []byte("a"))
	r.Add(digest.Function, "cold", []byte("b"))
	require.Equal(t, 2, r.Len(digest.Function))

	r.Trim(map[string]bool{"hot": true})
	require.Equal(t, 1, r.Len(digest.Function))

	_, ok := r.Lookup(digest.Function, "cold")
	require.False(t, ok)
}
