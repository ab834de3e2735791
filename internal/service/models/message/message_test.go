package message

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	id := uuid.New()

	body, err := EncodeEnvelope(id, json.RawMessage(`{"leadId":"L1","email":"a@b.c"}`))
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, id.String(), decoded["_messageId"])
	assert.Equal(t, "L1", decoded["leadId"])
	assert.Equal(t, "a@b.c", decoded["email"])
}

func TestEncodeEnvelopeEmptyPayload(t *testing.T) {
	id := uuid.New()

	body, err := EncodeEnvelope(id, nil)
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, id.String(), decoded["_messageId"])
}

func TestEncodeEnvelopeRejectsNonObjectPayload(t *testing.T) {
	_, err := EncodeEnvelope(uuid.New(), json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
}

func TestEncodeEnvelopeRejectsNullPayload(t *testing.T) {
	_, err := EncodeEnvelope(uuid.New(), json.RawMessage(`null`))
	require.Error(t, err)
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	id := uuid.New()
	body, err := EncodeEnvelope(id, json.RawMessage(`{"campaignId":"C7"}`))
	require.NoError(t, err)

	decodedID, payload, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, id, decodedID)
	assert.Equal(t, "C7", payload["campaignId"])
}

func TestDecodeEnvelopeMissingID(t *testing.T) {
	_, _, err := DecodeEnvelope([]byte(`{"leadId":"L1"}`))
	require.Error(t, err)
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	_, _, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name       string
		unconsumed int64
		want       Level
	}{
		{name: "empty backlog", unconsumed: 0, want: LevelOK},
		{name: "below warning", unconsumed: 4, want: LevelOK},
		{name: "at warning", unconsumed: 5, want: LevelWarning},
		{name: "below critical", unconsumed: 19, want: LevelWarning},
		{name: "at critical", unconsumed: 20, want: LevelCritical},
		{name: "scenario c", unconsumed: 25, want: LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFor(tt.unconsumed, 5, 20))
		})
	}
}
