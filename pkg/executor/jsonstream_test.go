package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, chunks []string) []string {
	t.Helper()
	s := &Splitter{}
	var out []string
	for _, chunk := range chunks {
		for _, obj := range s.Feed([]byte(chunk)) {
			out = append(out, string(obj))
		}
	}
	return out
}

func TestSplitter(t *testing.T) {
	t.Run("concatenated objects in one chunk", func(t *testing.T) {
		out := feedAll(t, []string{`{"a":1}{"b":2}`})
		assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, out)
	})

	t.Run("object split across chunks", func(t *testing.T) {
		out := feedAll(t, []string{`{"type":"V","pa`, `ram":"q"}`})
		assert.Equal(t, []string{`{"type":"V","param":"q"}`}, out)
	})

	t.Run("split inside a string literal with braces", func(t *testing.T) {
		out := feedAll(t, []string{`{"payload":"<b>{`, `}</b>"}`})
		assert.Equal(t, []string{`{"payload":"<b>{}</b>"}`}, out)
	})

	t.Run("escaped quote does not end the string", func(t *testing.T) {
		out := feedAll(t, []string{`{"p":"say \"hi\" {now}"}`})
		assert.Equal(t, []string{`{"p":"say \"hi\" {now}"}`}, out)
	})

	t.Run("garbage between objects is discarded", func(t *testing.T) {
		out := feedAll(t, []string{"[*] scanning...\n" + `{"a":1}` + "\nnoise\n" + `{"b":2}`})
		assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, out)
	})

	t.Run("balanced but invalid object resynchronizes", func(t *testing.T) {
		out := feedAll(t, []string{`{not json}{"ok":true}`})
		assert.Equal(t, []string{`{"ok":true}`}, out)
	})

	t.Run("nested objects emit as one", func(t *testing.T) {
		out := feedAll(t, []string{`{"data":{"url":"http://x","deep":{"n":1}}}`})
		assert.Equal(t, []string{`{"data":{"url":"http://x","deep":{"n":1}}}`}, out)
	})
}

// The object sequence must not depend on how the stream was chunked.
func TestSplitterChunkInvariance(t *testing.T) {
	stream := `noise{"type":"V","param":"search","payload":"<script>alert(1)</script>","data":"POC: http://victim.example/page?search=x"}` +
		`{"type":"I","msg":"informational"}` +
		`{"type":"POC","param":"q","payload":"\"><img src=x>","severity":"high"}`

	whole := feedAll(t, []string{stream})
	require.Len(t, whole, 3)

	chunkings := [][]string{
		{stream[:7], stream[7:]},
		{stream[:40], stream[40:90], stream[90:]},
		func() []string {
			var parts []string
			for i := 0; i < len(stream); i += 3 {
				end := i + 3
				if end > len(stream) {
					end = len(stream)
				}
				parts = append(parts, stream[i:end])
			}
			return parts
		}(),
	}

	for _, chunks := range chunkings {
		assert.Equal(t, whole, feedAll(t, chunks))
	}
}
