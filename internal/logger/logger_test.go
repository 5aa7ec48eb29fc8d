package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "prod", "json")
	log.Debug("hidden")
	log.Info("posting applied", "op", "post_receipt")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "posting applied", rec["msg"])
	assert.Equal(t, "post_receipt", rec["op"])
	assert.Equal(t, "inventory-ledger", rec["service"])
}

func TestNewWithWriterDevText(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "dev", "text").Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
