package types

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type ModelTier string

const (
	Basic   ModelTier = "basic"
	Medium  ModelTier = "medium"
	Premium ModelTier = "premium"
)

var tierRanks = map[ModelTier]int{
	Basic:   1,
	Medium:  2,
	Premium: 3,
}

var tiersByRank = []ModelTier{Basic, Medium, Premium}

// ParseModelTier falls back to basic for empty or unknown values.
func ParseModelTier(s string) ModelTier {
	tier := ModelTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRanks[tier]; !ok {
		return Basic
	}
	return tier
}

func (t ModelTier) Rank() int {
	return tierRanks[t]
}

// AtLeast returns t followed by every tier ranked above it, the order in which
// cached results may satisfy a request for t.
func (t ModelTier) AtLeast() []ModelTier {
	var tiers []ModelTier
	for _, other := range tiersByRank {
		if other.Rank() >= t.Rank() {
			tiers = append(tiers, other)
		}
	}
	return tiers
}

type Lane string

const (
	FastLane   Lane = "fast"
	NormalLane Lane = "normal"
	BulkLane   Lane = "any"
)

var Lanes = []Lane{FastLane, NormalLane, BulkLane}

const BulkConversationId = "any"

type Priority int

const (
	HighPriority Priority = iota
	NormalPriority
	LowPriority
)

func (p Priority) String() string {
	switch p {
	case HighPriority:
		return "high"
	case NormalPriority:
		return "normal"
	default:
		return "low"
	}
}

// RouteLane picks the lane for a text. Short texts always take the fast lane,
// the "any" conversation goes to bulk, everything else is normal.
func RouteLane(text, conversationId string, shortTextThreshold int) Lane {
	if utf8.RuneCountInString(text) < shortTextThreshold {
		return FastLane
	}
	if conversationId == BulkConversationId {
		return BulkLane
	}
	return NormalLane
}

func priorityForLane(lane Lane) Priority {
	switch lane {
	case FastLane:
		return HighPriority
	case BulkLane:
		return LowPriority
	default:
		return NormalPriority
	}
}

// Job is created once at ingress and never mutated afterwards.
type Job struct {
	Id              string
	TaskId          string
	MessageId       string
	Text            string
	SourceLanguage  string
	TargetLanguages []string
	ModelType       ModelTier
	ConversationId  string
	SessionId       string
	RequestId       string
	Lane            Lane
	Priority        Priority
	CreatedAt       time.Time
}

type JobParams struct {
	TaskId          string
	MessageId       string
	Text            string
	SourceLanguage  string
	TargetLanguages []string
	ModelType       string
	ConversationId  string
	SessionId       string
	RequestId       string
}

const (
	DefaultSourceLanguage = "fr"
	DefaultConversationId = "unknown"
)

func NewJob(params JobParams, shortTextThreshold int) Job {
	id := uuid.NewString()
	taskId := params.TaskId
	if taskId == "" {
		taskId = id
	}

	source := params.SourceLanguage
	if source == "" {
		source = DefaultSourceLanguage
	}

	conversationId := params.ConversationId
	if conversationId == "" {
		conversationId = DefaultConversationId
	}

	lane := RouteLane(params.Text, conversationId, shortTextThreshold)

	return Job{
		Id:              id,
		TaskId:          taskId,
		MessageId:       params.MessageId,
		Text:            params.Text,
		SourceLanguage:  source,
		TargetLanguages: dedupe(params.TargetLanguages),
		ModelType:       ParseModelTier(params.ModelType),
		ConversationId:  conversationId,
		SessionId:       params.SessionId,
		RequestId:       params.RequestId,
		Lane:            lane,
		Priority:        priorityForLane(lane),
		CreatedAt:       time.Now(),
	}
}

func dedupe(langs []string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// BatchKey groups jobs that can share one inference call.
func BatchKey(job Job) string {
	targets := make([]string, len(job.TargetLanguages))
	copy(targets, job.TargetLanguages)
	sort.Strings(targets)
	return job.SourceLanguage + "_" + strings.Join(targets, ",") + "_" + string(job.ModelType)
}

type Batch struct {
	Key       string
	Lane      Lane
	Jobs      []Job
	CreatedAt time.Time
}
