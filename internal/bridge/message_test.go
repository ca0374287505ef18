// SPDX-License-Identifier: MIT

package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargelink/sessiond/internal/session"
)

func TestDecodeValidMessage(t *testing.T) {
	msg := Decode([]byte(`{"action":"SET_CHARGER_TARGET","payload":{"id":"chg-7","lat":48.2,"lng":16.37}}`))
	require.NotNil(t, msg)
	assert.Equal(t, ActionSetChargerTarget, msg.Action)
	assert.Equal(t, "chg-7", msg.Str("id"))

	lat, ok := msg.Float("lat")
	require.True(t, ok)
	assert.Equal(t, 48.2, lat)
}

func TestDecodeExtractsRequestID(t *testing.T) {
	msg := Decode([]byte(`{"action":"GET_LOCATION","payload":{"requestId":"req-1"}}`))
	require.NotNil(t, msg)
	assert.Equal(t, "req-1", msg.RequestID)
}

func TestDecodeFailsClosed(t *testing.T) {
	cases := map[string]string{
		"malformed json":    `{"action": "GET_`,
		"missing action":    `{"payload":{}}`,
		"empty action":      `{"action":"","payload":{}}`,
		"not an object":     `[1,2,3]`,
		"plain string":      `"hello"`,
		"empty input":       ``,
		"action not string": `{"action":42}`,
	}
	for name, input := range cases {
		assert.Nil(t, Decode([]byte(input)), name)
	}
}

func TestDecodeMissingPayloadYieldsEmptyMap(t *testing.T) {
	msg := Decode([]byte(`{"action":"END_SESSION"}`))
	require.NotNil(t, msg)
	assert.NotNil(t, msg.Payload)
	assert.Empty(t, msg.Str("anything"))
}

func TestOutgoingVariantsCarryTheirFields(t *testing.T) {
	out := SessionStateChanged(session.StateInTransit, "sess-1")
	assert.Equal(t, ActionSessionStateChanged, out.Action)
	assert.Equal(t, "IN_TRANSIT", out.Payload["state"])
	assert.Equal(t, "sess-1", out.Payload["sessionId"])

	out = SessionStateChanged(session.StateIdle, "")
	_, hasSession := out.Payload["sessionId"]
	assert.False(t, hasSession)

	out = EmissionFailed(session.EventVisitVerified, "evt-1", "attempts exhausted")
	assert.Equal(t, ActionEmissionFailed, out.Action)
	assert.Equal(t, "visit_verified", out.Payload["event"])

	out = AuthTokenResponse("tok", "req-9")
	assert.Equal(t, "req-9", out.RequestID)
}

func TestOutgoingEncodeRoundTrip(t *testing.T) {
	raw, err := PermissionStatus("granted_always", "req-2").Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ActionPermissionStatus, decoded["action"])
	assert.Equal(t, "req-2", decoded["requestId"])

	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "granted_always", payload["status"])
}

func TestOutgoingEncodeOmitsEmptyRequestID(t *testing.T) {
	raw, err := Ready().Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	_, hasRequestID := decoded["requestId"]
	assert.False(t, hasRequestID)
}
