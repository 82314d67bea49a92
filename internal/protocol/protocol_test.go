package protocol_test

import (
	"encoding/base64"
	"testing"

	"translator-backend/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, frames ...string) (protocol.Request, error) {
	t.Helper()
	raw := make([][]byte, len(frames))
	for i, f := range frames {
		raw[i] = []byte(f)
	}
	return protocol.NewDecoder().Decode(raw)
}

func TestDecodePing(t *testing.T) {
	req, err := decode(t, `{"type":"ping","timestamp":1}`)
	require.NoError(t, err)
	assert.IsType(t, protocol.Ping{}, req)
}

func TestDecodeTranslation(t *testing.T) {
	req, err := decode(t, `{"type":"translation","messageId":"m1","text":"Hi","sourceLanguage":"en","targetLanguages":["fr","de"],"modelType":"premium","conversationId":"c1"}`)
	require.NoError(t, err)

	translation, ok := req.(protocol.Translation)
	require.True(t, ok)
	assert.Equal(t, "m1", translation.MessageId)
	assert.Equal(t, []string{"fr", "de"}, translation.TargetLanguages)
	assert.Equal(t, "premium", translation.ModelType)
}

func TestDecodeTranslationWithoutType(t *testing.T) {
	req, err := decode(t, `{"messageId":"m1","text":"Hi","targetLanguages":["fr"]}`)
	require.NoError(t, err)
	assert.IsType(t, protocol.Translation{}, req)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
		target error
	}{
		{"no frames", nil, protocol.ErrMalformedEnvelope},
		{"not json", [][]byte{[]byte("hello")}, protocol.ErrMalformedEnvelope},
		{"json array", [][]byte{[]byte(`[1,2]`)}, protocol.ErrMalformedEnvelope},
		{"truncated", [][]byte{[]byte(`{"type":"ping"`)}, protocol.ErrMalformedEnvelope},
		{"unknown type", [][]byte{[]byte(`{"type":"launch_rocket"}`)}, protocol.ErrUnknownType},
		{"no type and no text", [][]byte{[]byte(`{"messageId":"m1"}`)}, protocol.ErrUnknownType},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.NewDecoder().Decode(tc.frames)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestDecodeValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty targets", `{"type":"translation","messageId":"m1","text":"Hi","targetLanguages":[]}`},
		{"missing message id", `{"type":"translation","text":"Hi","targetLanguages":["fr"]}`},
		{"blank target", `{"type":"translation","messageId":"m1","text":"Hi","targetLanguages":[""]}`},
		{"bad model type", `{"type":"translation","messageId":"m1","text":"Hi","targetLanguages":["fr"],"modelType":"gold"}`},
		{"wrong field type", `{"type":"translation","messageId":"m1","text":42,"targetLanguages":["fr"]}`},
		{"audio without sender", `{"type":"audio_process","messageId":"m1","attachmentId":"a1"}`},
		{"transcription without task", `{"type":"transcription_only","messageId":"m1"}`},
		{"profile without user", `{"type":"voice_profile_analyze","request_id":"r1"}`},
		{"voice api without request type", `{"type":"voice_api","taskId":"t1"}`},
		{"bad base64", `{"type":"transcription_only","taskId":"t1","messageId":"m1","audioBase64":"%%%"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decode(t, tc.frame)
			var validationErr *protocol.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestValidationErrorNamesJSONField(t *testing.T) {
	_, err := decode(t, `{"type":"translation","text":"Hi","targetLanguages":["fr"]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messageId")
}

func TestDecodeAudioProcessAttachesFrames(t *testing.T) {
	req, err := decode(t,
		`{"type":"audio_process","messageId":"m1","attachmentId":"a1","senderId":"u1","targetLanguages":["en"],"binaryFrames":{"audio":1,"embedding":{"index":2,"size":3,"mimeType":"application/octet-stream"}}}`,
		"AUDIO",
		"EMB",
	)
	require.NoError(t, err)

	audio, ok := req.(protocol.AudioProcess)
	require.True(t, ok)
	assert.Equal(t, []byte("AUDIO"), audio.Audio)
	assert.Equal(t, []byte("EMB"), audio.Embedding)
	assert.Nil(t, audio.VoiceProfile)
	assert.Equal(t, "application/octet-stream", audio.BinaryFrames["embedding"].MimeType)
}

func TestDecodeAudioFrameOutOfRange(t *testing.T) {
	_, err := decode(t, `{"type":"audio_process","messageId":"m1","attachmentId":"a1","senderId":"u1","binaryFrames":{"audio":2}}`, "AUDIO")
	var validationErr *protocol.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestDecodeTranscriptionInlineAudio(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("bonjour"))
	req, err := decode(t, `{"type":"transcription_only","taskId":"t1","messageId":"m1","audioBase64":"`+encoded+`"}`)
	require.NoError(t, err)

	transcription, ok := req.(protocol.TranscriptionOnly)
	require.True(t, ok)
	assert.Equal(t, []byte("bonjour"), transcription.Audio)
}

func TestDecodeVoiceAPI(t *testing.T) {
	req, err := decode(t, `{"type":"voice_health","taskId":"t1"}`)
	require.NoError(t, err)
	voice, ok := req.(protocol.VoiceAPI)
	require.True(t, ok)
	assert.Equal(t, "voice_health", voice.Operation)
	assert.Equal(t, "voice_health", voice.RequestType())
	assert.Equal(t, "t1", voice.TaskId)

	req, err = decode(t, `{"type":"voice_api","taskId":"t2","requestType":"voice_languages"}`)
	require.NoError(t, err)
	voice = req.(protocol.VoiceAPI)
	assert.Equal(t, "voice_api", voice.RequestType())
	assert.Equal(t, "voice_languages", voice.Operation)
}

func TestDecodeVoiceProfile(t *testing.T) {
	req, err := decode(t, `{"type":"voice_profile_compare","request_id":"r1","embedding_a":"YQ==","embedding_b":"Yg=="}`)
	require.NoError(t, err)
	profile, ok := req.(protocol.VoiceProfile)
	require.True(t, ok)
	assert.Equal(t, "voice_profile_compare", profile.RequestType())

	req, err = decode(t, `{"type":"voice_profile_analyze","request_id":"r2","user_id":"u1","binaryFrames":{"audio":1}}`, "VOICE")
	require.NoError(t, err)
	profile = req.(protocol.VoiceProfile)
	assert.Equal(t, []byte("VOICE"), profile.Audio)
}

func TestBinaryFrames(t *testing.T) {
	refs := protocol.BinaryFrames([]string{"audio_fr", "embedding"}, [][]byte{[]byte("abc"), []byte("de")}, []string{"audio/mpeg"})
	assert.Equal(t, 1, refs["audio_fr"].Index)
	assert.Equal(t, 3, refs["audio_fr"].Size)
	assert.Equal(t, "audio/mpeg", refs["audio_fr"].MimeType)
	assert.Equal(t, 2, refs["embedding"].Index)
	assert.Empty(t, refs["embedding"].MimeType)
}
