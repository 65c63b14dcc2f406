package command

import (
	"encoding/json"
	"testing"

	"tradegateway/internal/streaming"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	got, err := streamURL("ws://localhost:8080", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/all", got)

	got, err = streamURL("wss://gw.example.com/", "TF_UIC21")
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example.com/ws/TF_UIC21", got)

	_, err = streamURL("http://localhost:8080", "")
	assert.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	out := formatMessage([]byte(`{"message_id":42,"reference_id":"TF_UIC21","payload":{"Bid":1.136}}`))
	assert.Equal(t, `[TF_UIC21] #42 {"Bid":1.136}`, out)

	assert.Contains(t, formatMessage([]byte("nope")), "unreadable message")
}

func TestMockFrame_DecodesToOneMessagePerRef(t *testing.T) {
	refs := []string{"TF_UIC21", "TF_UIC99"}
	var id uint64

	frame, err := mockFrame(&id, refs, newPriceWalk(refs))
	require.NoError(t, err)

	msgs, errs := streaming.DecodeAll(frame)
	require.Empty(t, errs)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(1), msgs[0].ID)
	assert.Equal(t, "TF_UIC21", msgs[0].ReferenceID)
	assert.Equal(t, uint64(2), msgs[1].ID)
	assert.Equal(t, "TF_UIC99", msgs[1].ReferenceID)

	var payload struct {
		Quote quote `json:"Quote"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Less(t, payload.Quote.Bid, payload.Quote.Ask)
}
