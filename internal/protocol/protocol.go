package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"translator-backend/pkg/api"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownType       = errors.New("unknown request type")
)

type ValidationError struct {
	RequestType string
	Details     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: %s", e.RequestType, strings.Join(e.Details, "; "))
}

// Logical names of the trailing binary frames a request may reference.
const (
	AudioFrame        = "audio"
	EmbeddingFrame    = "embedding"
	VoiceProfileFrame = "voiceProfile"
)

// Request is one decoded inbound message. The concrete type is one of Ping,
// Translation, AudioProcess, TranscriptionOnly, VoiceAPI or VoiceProfile.
type Request interface {
	RequestType() string
}

type Ping struct{}

type Translation struct {
	api.TranslationRequest
}

type AudioProcess struct {
	api.AudioProcessRequest
	Audio        []byte
	Embedding    []byte
	VoiceProfile []byte
}

type TranscriptionOnly struct {
	api.TranscriptionRequest
	Audio []byte
}

// VoiceAPI carries the envelope type in Type and the voice operation to run
// in Operation. They differ only for generic "voice_api" envelopes.
type VoiceAPI struct {
	Type      string
	TaskId    string
	Operation string
	Payload   map[string]any
}

type VoiceProfile struct {
	api.VoiceProfileRequest
	Audio     []byte
	Embedding []byte
}

func (Ping) RequestType() string              { return api.PingRequestType }
func (Translation) RequestType() string       { return api.TranslationRequestType }
func (AudioProcess) RequestType() string      { return api.AudioProcessRequestType }
func (TranscriptionOnly) RequestType() string { return api.TranscriptionRequestType }
func (v VoiceAPI) RequestType() string        { return v.Type }
func (v VoiceProfile) RequestType() string    { return v.Type }

var voiceAPITypes = map[string]struct{}{
	"voice_translate":       {},
	"voice_translate_async": {},
	"voice_analyze":         {},
	"voice_compare":         {},
	"voice_profile_get":     {},
	"voice_profile_create":  {},
	"voice_profile_update":  {},
	"voice_profile_delete":  {},
	"voice_profile_list":    {},
	"voice_job_status":      {},
	"voice_job_cancel":      {},
	"voice_feedback":        {},
	"voice_history":         {},
	"voice_stats":           {},
	"voice_admin_metrics":   {},
	"voice_health":          {},
	"voice_languages":       {},
}

const (
	VoiceProfileAnalyze = "voice_profile_analyze"
	VoiceProfileVerify  = "voice_profile_verify"
	VoiceProfileCompare = "voice_profile_compare"
)

var voiceProfileTypes = map[string]struct{}{
	api.VoiceProfileRequestType: {},
	VoiceProfileAnalyze:         {},
	VoiceProfileVerify:          {},
	VoiceProfileCompare:         {},
}

func IsVoiceAPIType(t string) bool {
	_, ok := voiceAPITypes[t]
	return ok
}

type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Decoder{validate: validate}
}

type envelope struct {
	Type            string          `json:"type"`
	Text            json.RawMessage `json:"text"`
	TargetLanguages json.RawMessage `json:"targetLanguages"`
}

// Decode parses frame 0 and attaches the binary frames it references. The
// returned error wraps ErrMalformedEnvelope or ErrUnknownType, or is a
// *ValidationError.
func (d *Decoder) Decode(frames [][]byte) (Request, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrMalformedEnvelope)
	}

	meta := bytes.TrimSpace(frames[0])
	if len(meta) == 0 || meta[0] != '{' {
		return nil, fmt.Errorf("%w: frame 0 is not a JSON object", ErrMalformedEnvelope)
	}

	var env envelope
	if err := json.Unmarshal(meta, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch {
	case env.Type == api.PingRequestType:
		return Ping{}, nil

	case env.Type == api.TranslationRequestType,
		env.Type == "" && len(env.Text) > 0 && len(env.TargetLanguages) > 0:
		return d.decodeTranslation(meta)

	case env.Type == api.AudioProcessRequestType:
		return d.decodeAudioProcess(meta, frames)

	case env.Type == api.TranscriptionRequestType:
		return d.decodeTranscription(meta, frames)

	case env.Type == api.VoiceAPIRequestType || IsVoiceAPIType(env.Type):
		return d.decodeVoiceAPI(meta, env.Type)

	default:
		if _, ok := voiceProfileTypes[env.Type]; ok {
			return d.decodeVoiceProfile(meta, frames)
		}
		if env.Type == "" {
			return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

func (d *Decoder) check(requestType string, v any) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &ValidationError{RequestType: requestType, Details: []string{err.Error()}}
	}

	details := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		details = append(details, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag()))
	}
	return &ValidationError{RequestType: requestType, Details: details}
}

func decodeInto(meta []byte, requestType string, v any) error {
	if err := json.Unmarshal(meta, v); err != nil {
		return &ValidationError{RequestType: requestType, Details: []string{err.Error()}}
	}
	return nil
}

func (d *Decoder) decodeTranslation(meta []byte) (Request, error) {
	var req api.TranslationRequest
	if err := decodeInto(meta, api.TranslationRequestType, &req); err != nil {
		return nil, err
	}
	if err := d.check(api.TranslationRequestType, req); err != nil {
		return nil, err
	}
	return Translation{TranslationRequest: req}, nil
}

func (d *Decoder) decodeAudioProcess(meta []byte, frames [][]byte) (Request, error) {
	var req api.AudioProcessRequest
	if err := decodeInto(meta, api.AudioProcessRequestType, &req); err != nil {
		return nil, err
	}
	if err := d.check(api.AudioProcessRequestType, req); err != nil {
		return nil, err
	}

	out := AudioProcess{AudioProcessRequest: req}
	var err error
	if out.Audio, err = resolve(frames, req.BinaryFrames, AudioFrame, req.AudioBase64, api.AudioProcessRequestType); err != nil {
		return nil, err
	}
	if out.Embedding, err = resolve(frames, req.BinaryFrames, EmbeddingFrame, "", api.AudioProcessRequestType); err != nil {
		return nil, err
	}
	if out.VoiceProfile, err = resolve(frames, req.BinaryFrames, VoiceProfileFrame, "", api.AudioProcessRequestType); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Decoder) decodeTranscription(meta []byte, frames [][]byte) (Request, error) {
	var req api.TranscriptionRequest
	if err := decodeInto(meta, api.TranscriptionRequestType, &req); err != nil {
		return nil, err
	}
	if err := d.check(api.TranscriptionRequestType, req); err != nil {
		return nil, err
	}

	audio, err := resolve(frames, req.BinaryFrames, AudioFrame, req.AudioBase64, api.TranscriptionRequestType)
	if err != nil {
		return nil, err
	}
	return TranscriptionOnly{TranscriptionRequest: req, Audio: audio}, nil
}

func (d *Decoder) decodeVoiceAPI(meta []byte, requestType string) (Request, error) {
	var payload map[string]any
	if err := decodeInto(meta, requestType, &payload); err != nil {
		return nil, err
	}

	req := VoiceAPI{Type: requestType, Operation: requestType, Payload: payload}
	if taskId, ok := payload["taskId"].(string); ok {
		req.TaskId = taskId
	}
	if requestType == api.VoiceAPIRequestType {
		name, _ := payload["requestType"].(string)
		if name == "" {
			return nil, &ValidationError{RequestType: requestType, Details: []string{"field 'requestType' failed on the 'required' tag"}}
		}
		req.Operation = name
	}
	return req, nil
}

func (d *Decoder) decodeVoiceProfile(meta []byte, frames [][]byte) (Request, error) {
	var req api.VoiceProfileRequest
	if err := decodeInto(meta, api.VoiceProfileRequestType, &req); err != nil {
		return nil, err
	}
	if err := d.check(req.Type, req); err != nil {
		return nil, err
	}

	out := VoiceProfile{VoiceProfileRequest: req}
	var err error
	if out.Audio, err = resolve(frames, req.BinaryFrames, AudioFrame, req.AudioData, req.Type); err != nil {
		return nil, err
	}
	if out.Embedding, err = resolve(frames, req.BinaryFrames, EmbeddingFrame, req.ExistingEmbedding, req.Type); err != nil {
		return nil, err
	}
	return out, nil
}

// resolve returns the binary frame referenced under name, or the decoded
// inline base64 fallback when the request carries no such frame.
func resolve(frames [][]byte, refs map[string]api.BinaryFrameRef, name, inline, requestType string) ([]byte, error) {
	if ref, ok := refs[name]; ok {
		if ref.Index < 1 || ref.Index >= len(frames) {
			return nil, &ValidationError{
				RequestType: requestType,
				Details:     []string{fmt.Sprintf("binary frame '%s' references frame %d but message has %d", name, ref.Index, len(frames)-1)},
			}
		}
		return frames[ref.Index], nil
	}

	if inline == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(inline)
	if err != nil {
		return nil, &ValidationError{RequestType: requestType, Details: []string{fmt.Sprintf("invalid base64 for '%s': %v", name, err)}}
	}
	return data, nil
}

// BinaryFrames builds the egress binaryFrames map for payloads that will be
// appended after the JSON frame in the given order.
func BinaryFrames(names []string, payloads [][]byte, mimeTypes []string) map[string]api.BinaryFrameRef {
	refs := make(map[string]api.BinaryFrameRef, len(names))
	for i, name := range names {
		ref := api.BinaryFrameRef{Index: i + 1, Size: len(payloads[i])}
		if i < len(mimeTypes) {
			ref.MimeType = mimeTypes[i]
		}
		refs[name] = ref
	}
	return refs
}
