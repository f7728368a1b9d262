package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsqqqq/notifyemail/internal/core"
)

var t0 = time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)

func TestFolderName_RoundTrip(t *testing.T) {
	name := FolderName(t0)
	assert.Equal(t, "2024_03_05-14_07_09", name)

	parsed, err := ParseFolderName(name)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(t0))

	_, err = ParseFolderName("not-a-timestamp")
	assert.Error(t, err)
}

func TestCreate_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "train", t0.Add(400*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "train", "2024_03_05-14_07_09"), s.Dir)
	assert.True(t, s.Created.Equal(t0))
	assert.NotEmpty(t, s.RunID)
	assert.DirExists(t, s.StagingPath())
	assert.Equal(t, "train", s.Label())
	assert.Equal(t, "train__2024_03_05-14_07_09_log", s.RunLabel())
	assert.Equal(t, filepath.Join(root, "train", HistoryDir), s.HistoryPath())
}

func TestCreate_RemovesStaleSameSecondDir(t *testing.T) {
	root := t.TempDir()
	first, err := Create(root, "job", t0)
	require.NoError(t, err)
	require.NoError(t, first.AppendNote("old run"))

	second, err := Create(root, "job", t0)
	require.NoError(t, err)
	assert.Equal(t, first.Dir, second.Dir)
	assert.NoFileExists(t, second.NotesPath())
}

func TestCreate_RejectsBadJobNames(t *testing.T) {
	for _, job := range []string{"", "  ", "a/b", "..", HistoryDir} {
		_, err := Create(t.TempDir(), job, t0)
		require.Error(t, err, job)
		assert.True(t, core.IsConfiguration(err), job)
	}
}

func TestCreate_UnusableRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := Create(file, "job", t0)
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestNotesAndFilesAccumulate(t *testing.T) {
	s, err := Create(t.TempDir(), "job", t0)
	require.NoError(t, err)

	require.NoError(t, s.AppendNote("epoch 1 done"))
	require.NoError(t, s.AppendNote("epoch 2 done"))
	require.NoError(t, s.AppendFile("results.csv"))
	require.NoError(t, s.AppendFile("/abs/plots"))
	assert.Error(t, s.AppendFile(" "))

	c, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "epoch 1 done\nepoch 2 done\n", string(c.Notes))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(wd, "results.csv"), "/abs/plots"}, c.Manifest)
	assert.Equal(t, "job", c.Label)
	assert.Empty(t, c.Recipients)
}

func TestSetRecipients_LastCallWins(t *testing.T) {
	s, err := Create(t.TempDir(), "job", t0)
	require.NoError(t, err)

	require.NoError(t, s.SetRecipients("a@example.com", "b@example.com"))
	require.NoError(t, s.SetRecipients("c@example.com; d@example.com, c@example.com"))

	c, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"c@example.com", "d@example.com"}, c.Recipients)

	err = s.SetRecipients(" ", "")
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestResolveRecipients_Precedence(t *testing.T) {
	defaults := []string{"me@example.com"}
	recorded := []string{"team@example.com"}
	explicit := []string{"oncall@example.com"}

	assert.Equal(t, explicit, ResolveRecipients(explicit, recorded, defaults))
	assert.Equal(t, recorded, ResolveRecipients(nil, recorded, defaults))
	assert.Equal(t, defaults, ResolveRecipients(nil, nil, defaults))
	assert.Equal(t, defaults, ResolveRecipients([]string{""}, nil, defaults))
	assert.Nil(t, ResolveRecipients(nil, nil, nil))
}

func TestArchive_MovesIntoHistory(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "job", t0)
	require.NoError(t, err)
	orig := s.Dir

	dest, err := s.Archive()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "job", HistoryDir, "2024_03_05-14_07_09"), dest)
	assert.Equal(t, dest, s.Dir)
	assert.NoDirExists(t, orig)
	assert.DirExists(t, dest)
	assert.Equal(t, "job", s.Label())
}

func TestOpen_ActiveAndArchived(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "nightly", t0)
	require.NoError(t, err)

	opened, err := Open(s.Dir)
	require.NoError(t, err)
	assert.Equal(t, "nightly", opened.Job)
	assert.True(t, opened.Created.Equal(t0))
	assert.Equal(t, s.RunLabel(), opened.RunLabel())

	_, err = s.Archive()
	require.NoError(t, err)
	archived, err := Open(s.Dir)
	require.NoError(t, err)
	assert.Equal(t, "nightly", archived.Job)
	assert.Equal(t, filepath.Join(root, "nightly"), archived.JobDir())
	assert.Equal(t, filepath.Join(root, "nightly", HistoryDir), archived.HistoryPath())
	assert.True(t, archived.Archived())
	assert.False(t, opened.Archived())

	_, err = archived.Archive()
	assert.Error(t, err, "an archived session cannot be archived again")
	assert.DirExists(t, archived.Dir)
	assert.NoDirExists(t, filepath.Join(root, "nightly", HistoryDir, HistoryDir))

	_, err = Open(filepath.Join(root, "nightly"))
	assert.Error(t, err)
	_, err = Open(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestList_OrdersOldestFirst(t *testing.T) {
	root := t.TempDir()
	a, err := Create(root, "a", t0)
	require.NoError(t, err)
	_, err = Create(root, "b", t0.Add(-time.Hour))
	require.NoError(t, err)
	_, err = Create(root, "a", t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = a.Archive()
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, "a", "junk"), 0o750))

	all, err := List(root, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Job)
	assert.True(t, all[1].Archived)
	assert.False(t, all[2].Archived)

	onlyA, err := List(root, "a")
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	none, err := List(filepath.Join(root, "nope"), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
