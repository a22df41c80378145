package zstdutil

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

func writeRecording(t *testing.T) *recording.Recording {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "team", "r1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, data := range map[string]string{
		"1234":                          "archive",
		"1234" + recording.IndexSuffix:  "index",
		recording.MetadataFile:          "name: Weekly sync\n",
		"grid" + recording.LayoutSuffix: "name: grid\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	return &recording.Recording{ID: "r1", Folder: "team", Dir: dir}
}

func TestExportImportRecording(t *testing.T) {
	t.Parallel()

	rec := writeRecording(t)
	for _, level := range []CompressionLevel{LevelFastest, LevelDefault, LevelBest} {
		t.Run(string(level), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, ExportRecording(&buf, rec, level))

			root := t.TempDir()
			dir, err := ImportRecording(&buf, root, "imported/team", "r1")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, "imported", "team", "r1"), dir)

			got, err := os.ReadFile(filepath.Join(dir, "1234"))
			require.NoError(t, err)
			assert.Equal(t, "archive", string(got))
			got, err = os.ReadFile(filepath.Join(dir, recording.MetadataFile))
			require.NoError(t, err)
			assert.Equal(t, "name: Weekly sync\n", string(got))
			assert.NoFileExists(t, filepath.Join(dir, recording.InProgressFile))
		})
	}
}

func TestExportRecording_Incomplete(t *testing.T) {
	t.Parallel()

	rec := writeRecording(t)
	require.NoError(t, os.WriteFile(filepath.Join(rec.Dir, recording.InProgressFile), nil, 0o644))

	var buf bytes.Buffer
	require.ErrorIs(t, ExportRecording(&buf, rec, LevelDefault), ErrIncomplete)
}

func TestImportRecording_Existing(t *testing.T) {
	t.Parallel()

	rec := writeRecording(t)
	var buf bytes.Buffer
	require.NoError(t, ExportRecording(&buf, rec, LevelDefault))

	root := filepath.Dir(filepath.Dir(rec.Dir))
	_, err := ImportRecording(&buf, root, "team", "r1")
	require.Error(t, err)
}

func TestImportRecording_PathTraversal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../escape", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, err = tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	root := t.TempDir()
	_, err = ImportRecording(&buf, root, "team", "r1")
	require.ErrorContains(t, err, "illegal file path")
	assert.NoDirExists(t, filepath.Join(root, "team", "r1"))
	assert.NoFileExists(t, filepath.Join(root, "escape"))
}
