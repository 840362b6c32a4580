package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityfeed/pkg/cache"
	"equityfeed/pkg/market"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds(nil)
	require.NoError(t, err)
	assert.Equal(t, market.Kinds(), kinds)

	kinds, err = parseKinds([]string{"history", "directory"})
	require.NoError(t, err)
	assert.Equal(t, []market.Kind{market.KindPriceHistory, market.KindSymbolDirectory}, kinds)

	_, err = parseKinds([]string{"quotes"})
	assert.Error(t, err)
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, cache.Report{Valid: true, Checked: 3})
	assert.Equal(t, "checked 3 artifacts, valid=true\n", buf.String())

	buf.Reset()
	renderReport(&buf, cache.Report{Checked: 1, Issues: []cache.Issue{
		{Path: "price_history/600519.msgpack", Kind: market.KindPriceHistory, Problem: "checksum mismatch"},
	}})
	out := buf.String()
	assert.Contains(t, out, "valid=false")
	assert.Contains(t, out, "checksum mismatch")
	assert.Contains(t, out, "PROBLEM")
}

func TestRenderRepairs(t *testing.T) {
	var buf bytes.Buffer
	renderRepairs(&buf, []cache.RepairResult{{
		Kind: market.KindSymbolDirectory, Checked: 1, Quarantined: []string{"a"}, Synthetic: true,
	}})
	assert.Contains(t, buf.String(), "symbol_directory")
	assert.Contains(t, buf.String(), "true")
}

func TestResetRequiresForce(t *testing.T) {
	cmd := resetCmd()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}
