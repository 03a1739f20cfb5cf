package protocol

import (
	"encoding/json"
	"testing"

	"sfulink/internal/core/domain"
	serrors "sfulink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_StartResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"startResponse","cameraId":"cam-1","role":"viewer","sdpAnswer":"v=0"}`))
	require.NoError(t, err)

	assert.Equal(t, IDStartResponse, msg.ID)
	assert.Equal(t, domain.StreamID("cam-1"), msg.Target())
	assert.Equal(t, "v=0", msg.SDPAnswer)
}

func TestDecode_ErrorUsesStreamID(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"error","streamId":"cam-9","code":2002,"reason":"no resources"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.StreamID("cam-9"), msg.Target())
	assert.Equal(t, 2002, msg.Code)
}

func TestDecode_UnknownIDIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"id":"mystery","cameraId":"cam-1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrProtocol)
}

func TestDecode_MalformedIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"id":`))
	require.Error(t, err)
	assert.True(t, serrors.Is(err, serrors.KindProtocol))
}

func TestNewStart_WireFields(t *testing.T) {
	msg := NewStart(StartParams{
		StreamID: "cam-1",
		Role:     domain.RolePublisher,
		SDPOffer: "offer",
		Bitrate:  300,
		Meeting: domain.MeetingInfo{
			MeetingID:   "m-1",
			VoiceBridge: "70001",
			UserID:      "u-1",
			UserName:    "Ada",
			Record:      true,
		},
	})

	data, err := Encode(msg)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "start", fields["id"])
	assert.Equal(t, "video", fields["type"])
	assert.Equal(t, "share", fields["role"])
	assert.Equal(t, "cam-1", fields["cameraId"])
	assert.Equal(t, "offer", fields["sdpOffer"])
	assert.Equal(t, "70001", fields["voiceBridge"])
	assert.Equal(t, float64(300), fields["bitrate"])
	assert.Equal(t, true, fields["record"])
}

func TestNewOnIceCandidate_CarriesCandidateObject(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	msg := NewOnIceCandidate("cam-2", domain.RoleSubscriber, domain.ICECandidate{
		Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host", SDPMid: &mid, SDPMLineIndex: &idx,
	})

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"onIceCandidate","type":"video","cameraId":"cam-2","role":"viewer",
		"candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}
	}`, string(data))
}

func TestIsTeardown(t *testing.T) {
	assert.True(t, NewStop("cam-1", domain.RoleSubscriber).IsTeardown())
	assert.False(t, NewPing().IsTeardown())
}
