package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalChains(t *testing.T) {
	j := NewJournal()

	first := j.Append("entry-1", "create", `{"table":"financial_transactions"}`)
	second := j.Append("entry-2", "allocate_payment", `{"contact_id":"c1"}`)

	assert.Equal(t, strings.Repeat("0", 64), first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)

	records := j.Records()
	require.Len(t, records, 2)
	assert.True(t, VerifyChain(records))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	j := NewJournal()
	j.Append("entry-1", "create", "a")
	j.Append("entry-2", "create", "b")
	j.Append("entry-3", "purge", "c")

	records := j.Records()
	require.True(t, VerifyChain(records))

	tampered := *records[1]
	tampered.Payload = "forged"
	records[1] = &tampered
	assert.False(t, VerifyChain(records))
}

func TestVerifyChainEmpty(t *testing.T) {
	assert.True(t, VerifyChain(nil))
}
