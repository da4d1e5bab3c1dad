package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSQL(t *testing.T) {
	in := StripSQLComments(`
-- header
CREATE TABLE a (id INT);

  -- indented comment
CREATE INDEX a_idx ON a (id);
`)
	got := SplitSQL(in)
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX a_idx ON a (id)"}, got)
}

func TestRepoRoot(t *testing.T) {
	root, err := RepoRoot()
	assert.NoError(t, err)
	assert.FileExists(t, root+"/go.mod")
	assert.FileExists(t, root+"/migrations/0001_init.sql")
}
