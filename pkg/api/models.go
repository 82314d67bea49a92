package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request types carried in the "type" field of frame 0.
const (
	PingRequestType          = "ping"
	TranslationRequestType   = "translation"
	AudioProcessRequestType  = "audio_process"
	TranscriptionRequestType = "transcription_only"
	VoiceAPIRequestType      = "voice_api"
	VoiceProfileRequestType  = "voice_profile"
)

// Event types published on the outbound channel.
const (
	PongEvent                   = "pong"
	TranslationCompletedEvent   = "translation_completed"
	TranslationErrorEvent       = "translation_error"
	TranslationSkippedEvent     = "translation_skipped"
	TranscriptionReadyEvent     = "transcription_ready"
	TranscriptionCompletedEvent = "transcription_completed"
	TranscriptionErrorEvent     = "transcription_error"
	AudioTranslationReadyEvent  = "audio_translation_ready"
	AudioProcessCompletedEvent  = "audio_process_completed"
	AudioProcessErrorEvent      = "audio_process_error"
	VoiceAPISuccessEvent        = "voice_api_success"
	VoiceAPIErrorEvent          = "voice_api_error"
	VoiceProfileErrorEvent      = "voice_profile_error"
)

// BinaryFrameRef points at a trailing binary frame of a multipart message.
// On ingress it may be given as a bare 1-based index or as an object.
type BinaryFrameRef struct {
	Index    int    `json:"index"`
	Size     int    `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

func (r *BinaryFrameRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var index int
		if err := json.Unmarshal(data, &index); err != nil {
			return fmt.Errorf("invalid binary frame reference: %w", err)
		}
		*r = BinaryFrameRef{Index: index}
		return nil
	}

	type plain BinaryFrameRef
	var ref plain
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("invalid binary frame reference: %w", err)
	}
	*r = BinaryFrameRef(ref)
	return nil
}

type TranslationRequest struct {
	Type            string   `json:"type,omitempty"`
	TaskId          string   `json:"taskId,omitempty"`
	MessageId       string   `json:"messageId" validate:"required"`
	Text            string   `json:"text" validate:"required"`
	SourceLanguage  string   `json:"sourceLanguage,omitempty"`
	TargetLanguages []string `json:"targetLanguages" validate:"required,min=1,dive,required"`
	ModelType       string   `json:"modelType,omitempty" validate:"omitempty,oneof=basic medium premium"`
	ConversationId  string   `json:"conversationId,omitempty"`
	SessionId       string   `json:"sessionId,omitempty"`
	RequestId       string   `json:"requestId,omitempty"`
}

type Segment struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Confidence float64 `json:"confidence"`
}

type MobileTranscription struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
}

type VoiceProfileData struct {
	ProfileId       string         `json:"profileId,omitempty"`
	UserId          string         `json:"userId,omitempty"`
	QualityScore    float64        `json:"qualityScore,omitempty"`
	Embedding       string         `json:"embedding,omitempty"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

type AudioProcessRequest struct {
	Type                 string                    `json:"type"`
	TaskId               string                    `json:"taskId,omitempty"`
	MessageId            string                    `json:"messageId" validate:"required"`
	AttachmentId         string                    `json:"attachmentId" validate:"required"`
	SenderId             string                    `json:"senderId" validate:"required"`
	ConversationId       string                    `json:"conversationId,omitempty"`
	SourceLanguage       string                    `json:"sourceLanguage,omitempty"`
	TargetLanguages      []string                  `json:"targetLanguages,omitempty" validate:"dive,required"`
	ModelType            string                    `json:"modelType,omitempty" validate:"omitempty,oneof=basic medium premium"`
	AudioBase64          string                    `json:"audioBase64,omitempty"`
	AudioMimeType        string                    `json:"audioMimeType,omitempty"`
	AudioUrl             string                    `json:"audioUrl,omitempty"`
	AudioDurationMs      int64                     `json:"audioDurationMs,omitempty"`
	MobileTranscription  *MobileTranscription      `json:"mobileTranscription,omitempty"`
	GenerateVoiceClone   bool                      `json:"generateVoiceClone,omitempty"`
	ExistingVoiceProfile *VoiceProfileData         `json:"existingVoiceProfile,omitempty"`
	CloningParams        map[string]any            `json:"cloningParams,omitempty"`
	BinaryFrames         map[string]BinaryFrameRef `json:"binaryFrames,omitempty"`
}

type TranscriptionRequest struct {
	Type                string                    `json:"type"`
	TaskId              string                    `json:"taskId" validate:"required"`
	MessageId           string                    `json:"messageId" validate:"required"`
	AttachmentId        string                    `json:"attachmentId,omitempty"`
	Language            string                    `json:"language,omitempty"`
	AudioBase64         string                    `json:"audioBase64,omitempty"`
	AudioMimeType       string                    `json:"audioMimeType,omitempty"`
	MobileTranscription *MobileTranscription      `json:"mobileTranscription,omitempty"`
	BinaryFrames        map[string]BinaryFrameRef `json:"binaryFrames,omitempty"`
}

type VoiceProfileRequest struct {
	Type              string                    `json:"type"`
	RequestId         string                    `json:"request_id" validate:"required"`
	UserId            string                    `json:"user_id" validate:"required_unless=Type voice_profile_compare"`
	AudioData         string                    `json:"audio_data,omitempty"`
	AudioFormat       string                    `json:"audio_format,omitempty"`
	IsUpdate          bool                      `json:"is_update,omitempty"`
	ExistingEmbedding string                    `json:"existing_embedding,omitempty"`
	EmbeddingA        string                    `json:"embedding_a,omitempty"`
	EmbeddingB        string                    `json:"embedding_b,omitempty"`
	BinaryFrames      map[string]BinaryFrameRef `json:"binaryFrames,omitempty"`
}

type Pong struct {
	Type                   string  `json:"type"`
	Timestamp              float64 `json:"timestamp"`
	TranslatorStatus       string  `json:"translator_status"`
	TranslatorPortPub      int     `json:"translator_port_pub"`
	TranslatorPortPull     int     `json:"translator_port_pull"`
	AudioPipelineAvailable bool    `json:"audio_pipeline_available"`
}

type TranslationResult struct {
	MessageId       string  `json:"messageId"`
	TranslatedText  string  `json:"translatedText"`
	SourceLanguage  string  `json:"sourceLanguage"`
	TargetLanguage  string  `json:"targetLanguage"`
	ConfidenceScore float64 `json:"confidenceScore"`
	ProcessingTime  float64 `json:"processingTime"`
	ModelType       string  `json:"modelType"`
	WorkerName      string  `json:"workerName"`
	TranslatorModel string  `json:"translatorModel"`
	WorkerId        string  `json:"workerId"`
	PoolType        string  `json:"poolType"`
	TranslationTime int64   `json:"translationTime"`
	QueueTime       int64   `json:"queueTime"`
	MemoryUsage     float64 `json:"memoryUsage"`
	CpuUsage        float64 `json:"cpuUsage"`
	FromCache       bool    `json:"fromCache,omitempty"`
	BatchSize       int     `json:"batchSize,omitempty"`
	BatchIndex      int     `json:"batchIndex,omitempty"`
	Timestamp       float64 `json:"timestamp"`
	Version         string  `json:"version"`
}

type TranslationMetadata struct {
	TranslatorVersion string `json:"translatorVersion"`
	ModelVersion      string `json:"modelVersion"`
	ProcessingNode    string `json:"processingNode"`
	SessionId         string `json:"sessionId,omitempty"`
	RequestId         string `json:"requestId,omitempty"`
	Protocol          string `json:"protocol"`
	Encoding          string `json:"encoding"`
}

type TranslationCompleted struct {
	Type           string              `json:"type"`
	TaskId         string              `json:"taskId"`
	Result         TranslationResult   `json:"result"`
	TargetLanguage string              `json:"targetLanguage"`
	Timestamp      float64             `json:"timestamp"`
	Metadata       TranslationMetadata `json:"metadata"`
}

type TranslationError struct {
	Type           string  `json:"type"`
	TaskId         string  `json:"taskId"`
	MessageId      string  `json:"messageId"`
	TargetLanguage string  `json:"targetLanguage"`
	Error          string  `json:"error"`
	ErrorCode      string  `json:"errorCode"`
	ConversationId string  `json:"conversationId,omitempty"`
	Timestamp      float64 `json:"timestamp"`
}

type TranslationSkipped struct {
	Type           string  `json:"type"`
	MessageId      string  `json:"messageId"`
	Reason         string  `json:"reason"`
	Length         int     `json:"length"`
	MaxLength      int     `json:"max_length"`
	ConversationId string  `json:"conversationId,omitempty"`
	Timestamp      float64 `json:"timestamp"`
}

type Transcription struct {
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	DurationMs int64     `json:"durationMs"`
	Source     string    `json:"source"`
	Segments   []Segment `json:"segments,omitempty"`
}

// TranscriptionEvent is used for both transcription_ready and
// transcription_completed.
type TranscriptionEvent struct {
	Type             string        `json:"type"`
	TaskId           string        `json:"taskId"`
	MessageId        string        `json:"messageId"`
	AttachmentId     string        `json:"attachmentId"`
	Transcription    Transcription `json:"transcription"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	Timestamp        float64       `json:"timestamp"`
}

// TaskError is used for transcription_error and audio_process_error.
type TaskError struct {
	Type         string  `json:"type"`
	TaskId       string  `json:"taskId"`
	MessageId    string  `json:"messageId"`
	AttachmentId string  `json:"attachmentId"`
	Error        string  `json:"error"`
	ErrorCode    string  `json:"errorCode"`
	Timestamp    float64 `json:"timestamp"`
}

type TranslatedAudio struct {
	TargetLanguage string  `json:"targetLanguage"`
	TranslatedText string  `json:"translatedText"`
	AudioMimeType  string  `json:"audioMimeType"`
	DurationMs     int64   `json:"durationMs"`
	VoiceCloned    bool    `json:"voiceCloned"`
	VoiceQuality   float64 `json:"voiceQuality,omitempty"`
	FromCache      bool    `json:"fromCache,omitempty"`
}

type AudioTranslationReady struct {
	Type            string                    `json:"type"`
	TaskId          string                    `json:"taskId"`
	MessageId       string                    `json:"messageId"`
	AttachmentId    string                    `json:"attachmentId"`
	Language        string                    `json:"language"`
	TranslatedAudio TranslatedAudio           `json:"translatedAudio"`
	CurrentIndex    int                       `json:"currentIndex"`
	TotalLanguages  int                       `json:"totalLanguages"`
	IsLastLanguage  bool                      `json:"isLastLanguage"`
	BinaryFrames    map[string]BinaryFrameRef `json:"binaryFrames,omitempty"`
	Timestamp       float64                   `json:"timestamp"`
}

type NewVoiceProfile struct {
	UserId          string         `json:"userId"`
	ProfileId       string         `json:"profileId"`
	QualityScore    float64        `json:"qualityScore"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

type AudioProcessCompleted struct {
	Type             string                    `json:"type"`
	TaskId           string                    `json:"taskId"`
	MessageId        string                    `json:"messageId"`
	AttachmentId     string                    `json:"attachmentId"`
	Transcription    Transcription             `json:"transcription"`
	TranslatedAudios []TranslatedAudio         `json:"translatedAudios"`
	NewVoiceProfile  *NewVoiceProfile          `json:"newVoiceProfile,omitempty"`
	ProcessingTimeMs int64                     `json:"processingTimeMs"`
	BinaryFrames     map[string]BinaryFrameRef `json:"binaryFrames,omitempty"`
	Timestamp        float64                   `json:"timestamp"`
}

type VoiceAPISuccess struct {
	Type             string         `json:"type"`
	TaskId           string         `json:"taskId"`
	RequestType      string         `json:"requestType"`
	Result           map[string]any `json:"result"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Timestamp        float64        `json:"timestamp"`
}

type VoiceAPIError struct {
	Type        string  `json:"type"`
	TaskId      string  `json:"taskId"`
	RequestType string  `json:"requestType"`
	Error       string  `json:"error"`
	ErrorCode   string  `json:"errorCode"`
	Timestamp   float64 `json:"timestamp"`
}

type VoiceProfileResult struct {
	Type      string         `json:"type"`
	RequestId string         `json:"request_id"`
	UserId    string         `json:"user_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

type VoiceProfileError struct {
	Type      string  `json:"type"`
	RequestId string  `json:"request_id"`
	UserId    string  `json:"user_id"`
	Error     string  `json:"error"`
	Success   bool    `json:"success"`
	Timestamp float64 `json:"timestamp"`
}

type ServerStats struct {
	TasksProcessed     map[string]uint64 `json:"tasksProcessed"`
	TasksFailed        map[string]uint64 `json:"tasksFailed"`
	ActiveTasks        map[string]int64  `json:"activeTasks"`
	LaneDepth          map[string]int    `json:"laneDepth"`
	LaneWorkers        map[string]int    `json:"laneWorkers"`
	AvgLatencyMs       float64           `json:"avgLatencyMs"`
	CacheHits          uint64            `json:"cacheHits"`
	CacheMisses        uint64            `json:"cacheMisses"`
	CacheHitRate       float64           `json:"cacheHitRate"`
	ScalingEvents      uint64            `json:"scalingEvents"`
	QualityRejections  uint64            `json:"qualityRejections"`
	SkippedMessages    uint64            `json:"skippedMessages"`
	PoolFullRejections uint64            `json:"poolFullRejections"`
	UptimeSeconds      float64           `json:"uptimeSeconds"`
}

type CacheStats struct {
	Mode                string `json:"mode"`
	MemoryEntries       int    `json:"memory_entries"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	RemoteAvailable     bool   `json:"remote_available"`
}

type CacheKeysRequest struct {
	Pattern string `schema:"pattern"`
}

type CacheKeysResponse struct {
	Keys []string `json:"keys"`
}

type SubmitResponse struct {
	Accepted bool `json:"accepted"`
}

type HealthResponse struct {
	Status                 string `json:"status"`
	AudioPipelineAvailable bool   `json:"audio_pipeline_available"`
	CacheMode              string `json:"cache_mode,omitempty"`
	DatabaseAvailable      bool   `json:"database_available"`
}

type StoredTranslation struct {
	MessageId      string  `json:"messageId"`
	TargetLanguage string  `json:"targetLanguage"`
	SourceLanguage string  `json:"sourceLanguage"`
	TranslatedText string  `json:"translatedText"`
	ModelType      string  `json:"modelType"`
	Confidence     float64 `json:"confidence"`
	UpdatedAt      float64 `json:"updatedAt"`
}
