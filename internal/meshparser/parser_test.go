package meshparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

func runTokens(tokens []string) ([]chatmodel.OutputIndexes, Extracted) {
	p := New()
	for _, tok := range tokens {
		p.ProcessToken(tok)
	}
	records := p.Finalize()
	return records, Extract(tokens, records)
}

func TestFencedBlockWithLeadingProse(t *testing.T) {
	tokens := []string{
		"here ", "is", " ", "your ", "obj", " ", "model:", "\n",
		"```", "obj", "\n",
		"v", " ", "1", " ", "2", " ", "3", "\n",
		"f", " ", "1", " ", "2", " ", "3", "\n",
		"```", "\n",
		"done", "?",
	}

	records, extracted := runTokens(tokens)

	require.Len(t, records, 1)
	assert.Equal(t, chatmodel.OutputIndexes{ObjStart: 11, ObjEnd: 27, ExcludeStart: 8, ExcludeEnd: 29}, records[0])
	assert.Equal(t, []string{"v 1 2 3\nf 1 2 3\n"}, extracted.ObjContents)
	assert.Equal(t, "here is your obj model:\ndone?", extracted.MessageContent)
}

func TestBareBlockWithoutFences(t *testing.T) {
	tokens := []string{"v", " ", "0", " ", "0", " ", "0", "\n", "f", " ", "1", " ", "2", " ", "3", "\n"}

	records, extracted := runTokens(tokens)

	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].ObjStart)
	assert.Equal(t, 0, records[0].ExcludeStart)
	assert.Equal(t, 16, records[0].ObjEnd)
	assert.Equal(t, 16, records[0].ExcludeEnd)
	assert.Equal(t, "", extracted.MessageContent)
	assert.Equal(t, []string{"v 0 0 0\nf 1 2 3\n"}, extracted.ObjContents)
}

func TestNoBlock(t *testing.T) {
	tokens := []string{"hello", " ", "world"}

	records, extracted := runTokens(tokens)

	assert.Empty(t, records)
	assert.Equal(t, "hello world", extracted.MessageContent)
	assert.Empty(t, extracted.ObjContents)
}

// TestRecordInvariants checks the ordering/containment invariant spec.md
// §8 states for every completed record, across all three seed scenarios.
func TestRecordInvariants(t *testing.T) {
	scenarios := [][]string{
		{"here ", "is", " ", "your ", "obj", " ", "model:", "\n", "```", "obj", "\n", "v", " ", "1", " ", "2", " ", "3", "\n", "f", " ", "1", " ", "2", " ", "3", "\n", "```", "\n", "done", "?"},
		{"v", " ", "0", " ", "0", " ", "0", "\n", "f", " ", "1", " ", "2", " ", "3", "\n"},
		{"hello", " ", "world"},
	}

	for _, tokens := range scenarios {
		records, _ := runTokens(tokens)
		prevExcludeEnd := 0
		for _, r := range records {
			assert.True(t, 0 <= r.ExcludeStart)
			assert.True(t, r.ExcludeStart <= r.ObjStart)
			assert.True(t, r.ObjStart < r.ObjEnd)
			assert.True(t, r.ObjEnd <= r.ExcludeEnd)
			assert.True(t, r.ExcludeEnd <= len(tokens))
			assert.True(t, prevExcludeEnd <= r.ExcludeStart)
			prevExcludeEnd = r.ExcludeEnd
		}
	}
}

// TestExtractionRoundTrip reconstructs the full token concatenation from
// message_content plus the obj_contents reinserted at their original
// positions, and checks it against concat(tokens) byte-for-byte.
func TestExtractionRoundTrip(t *testing.T) {
	tokens := []string{
		"here ", "is", " ", "your ", "obj", " ", "model:", "\n",
		"```", "obj", "\n",
		"v", " ", "1", " ", "2", " ", "3", "\n",
		"f", " ", "1", " ", "2", " ", "3", "\n",
		"```", "\n",
		"done", "?",
	}
	records, extracted := runTokens(tokens)

	// Reinsert each obj_content, plus its surrounding excluded fence text,
	// back at its original position within the prose and check the result
	// against the raw token concatenation byte-for-byte.
	var reconstructed strings.Builder
	prevExcludeEnd := 0
	for i, r := range records {
		reconstructed.WriteString(joinTokens(tokens, prevExcludeEnd, r.ExcludeStart))
		reconstructed.WriteString(joinTokens(tokens, r.ExcludeStart, r.ObjStart))
		reconstructed.WriteString(extracted.ObjContents[i])
		reconstructed.WriteString(joinTokens(tokens, r.ObjEnd, r.ExcludeEnd))
		prevExcludeEnd = r.ExcludeEnd
	}
	reconstructed.WriteString(joinTokens(tokens, prevExcludeEnd, len(tokens)))

	assert.Equal(t, strings.Join(tokens, ""), reconstructed.String())
}
