package pathlist

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func TestDecodePaths(t *testing.T) {
	d, _ := New(nil)
	text := "# Files\n```\nsrc/main.py\n  - src/utils/helper.py\n* config\\settings.json\n1. README.md\n12. docs/guide/\nMakefile\nsrc/main.py\n\nnotes about things\n```"
	got, err := d.DecodePaths(context.Background(), contract.Raw{Text: text})
	require.NoError(t, err)
	want := []contract.FileID{"src/main.py", "src/utils/helper.py", "config/settings.json", "README.md"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePathsEmpty(t *testing.T) {
	d, _ := New(nil)
	got, err := d.DecodePaths(context.Background(), contract.Raw{Text: "No files were found"})
	require.NoError(t, err)
	require.Empty(t, got)
}
