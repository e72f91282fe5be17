package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_SectionsAndEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "rules.conf", `
[DEFINE_MACRO]
GREETING=hello

[myrule]
BEGIN=^ABR
ACTION.CREATE=counter++
`)

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	require.Equal(t, "DEFINE_MACRO", sections[0].Name)
	require.Len(t, sections[0].Entries, 1)
	require.Equal(t, "GREETING", sections[0].Entries[0].LValue)
	require.Equal(t, "hello", sections[0].Entries[0].RValue)

	require.Equal(t, "myrule", sections[1].Name)
	require.Len(t, sections[1].Entries, 2)
	require.Equal(t, "BEGIN", sections[1].Entries[0].LValue)
	require.Equal(t, "^ABR", sections[1].Entries[0].RValue)
}

func TestLoad_CommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "rules.conf", `
# a leading comment
[myrule]
; another comment style
BEGIN=^ABR # trailing comment
`)

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Len(t, sections[0].Entries, 1)
	require.Equal(t, "^ABR", sections[0].Entries[0].RValue)
}

func TestLoad_LineContinuation(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "rules.conf", "[myrule]\nBEGIN=^ABR\\\n.*DONE\n")

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, sections[0].Entries, 1)
	require.Equal(t, "^ABR.*DONE", sections[0].Entries[0].RValue)
}

func TestLoad_ContinuationDropsEmbeddedComment(t *testing.T) {
	dir := t.TempDir()
	// The comment on the first physical line is dropped, but splicing still
	// happens because the comment text itself ends in a backslash.
	path := writeScript(t, dir, "rules.conf", "[myrule]\nBEGIN=^ABR # note\\\n.*DONE\n")

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, "^ABR.*DONE", sections[0].Entries[0].RValue)
}

func TestLoad_Include(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "included.conf", "[included_rule]\nBEGIN=^X\n")
	path := writeScript(t, dir, "main.conf", "INCLUDE=included.conf\n\n[main_rule]\nBEGIN=^Y\n")

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	require.Equal(t, "included_rule", sections[0].Name)
	require.Equal(t, "main_rule", sections[1].Name)
}

func TestLoad_IncludeDedupByBasename(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "shared.conf", "[shared_rule]\nBEGIN=^X\n")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Same basename, different directory - still deduped by basename only.
	require.NoError(t, os.WriteFile(filepath.Join(sub, "shared.conf"), []byte("[other]\nBEGIN=^Z\n"), 0o644))

	path := writeScript(t, dir, "main.conf", "INCLUDE=shared.conf\nINCLUDE=sub/shared.conf\n\n[main_rule]\nBEGIN=^Y\n")

	sections, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, sections, 2) // second INCLUDE silently skipped
	require.Equal(t, "shared_rule", sections[0].Name)
	require.Equal(t, "main_rule", sections[1].Name)
}

func TestLoad_EmptySectionNameError(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "rules.conf", "[]\nBEGIN=^X\n")

	_, err := NewLoader().Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty section name")
}

func TestLoad_MalformedLineError(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "rules.conf", "[myrule]\nNOT_AN_ASSIGNMENT\n")

	_, err := NewLoader().Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed line")
}

func TestLoad_UnopenableIncludeError(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "main.conf", "INCLUDE=does-not-exist.conf\n")

	_, err := NewLoader().Load(path)
	require.Error(t, err)
}

func TestLoadStdin(t *testing.T) {
	r := strings.NewReader("[myrule]\nBEGIN=^X\n")
	sections, err := NewLoader().LoadStdin(r)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, "myrule", sections[0].Name)
}

func TestLoad_EntryOutsideSectionError(t *testing.T) {
	r := strings.NewReader("BEGIN=^X\n")
	_, err := NewLoader().LoadStdin(r)
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside of any section")
}
