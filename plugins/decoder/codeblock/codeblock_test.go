package codeblock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func TestDecodeContentStripsFences(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)
	got, err := d.DecodeContent(context.Background(), contract.Raw{Text: "```python\ndef f():\n    return 1\n```\n"})
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    return 1", got)

	got, err = d.DecodeContent(context.Background(), contract.Raw{Text: "  plain text body \n"})
	require.NoError(t, err)
	assert.Equal(t, "plain text body", got)
}

func TestDecodeContentNotFound(t *testing.T) {
	d, _ := New(nil)
	for _, txt := range []string{"FILE_NOT_FOUND", "Sorry: FILE_NOT_FOUND.", "```\n```", "   "} {
		_, err := d.DecodeContent(context.Background(), contract.Raw{Text: txt})
		assert.ErrorIs(t, err, contract.ErrNotFound, txt)
	}
}

func TestDecodeContentCustomSentinel(t *testing.T) {
	d, err := New([]byte(`{"not_found":"<none>"}`))
	require.NoError(t, err)
	_, err = d.DecodeContent(context.Background(), contract.Raw{Text: "<none>"})
	assert.ErrorIs(t, err, contract.ErrNotFound)
	got, err := d.DecodeContent(context.Background(), contract.Raw{Text: "FILE_NOT_FOUND is a constant"})
	require.NoError(t, err)
	assert.Equal(t, "FILE_NOT_FOUND is a constant", got)
}
