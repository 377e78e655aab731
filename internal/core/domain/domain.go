// Package domain defines the core entities of the podcast-outreach
// pipeline: campaigns, media (podcasts), episodes, discoveries, match
// suggestions, review tasks, and client profiles.
package domain

import "time"

// Pipeline status constants shared by enrichment and vetting stages.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Auto-discovery lifecycle states for a campaign.
const (
	AutoStatusDisabled  = "disabled"
	AutoStatusPending   = "pending"
	AutoStatusRunning   = "running"
	AutoStatusPaused    = "paused"
	AutoStatusCompleted = "completed"
	AutoStatusError     = "error"
)

// Match suggestion statuses.
const (
	MatchStatusPendingVetting      = "pending_vetting"
	MatchStatusPendingHumanReview  = "pending_human_review"
	MatchStatusPendingClientReview = "pending_client_review"
	MatchStatusClientApproved      = "client_approved"
	MatchStatusClientRejected      = "client_rejected"
	MatchStatusRejectedByAI        = "rejected_by_ai"
)

// Review task types. RelatedID is interpreted according to the type.
const (
	TaskTypeMatchSuggestion = "match_suggestion"
	TaskTypeMatchVetting    = "match_suggestion_vetting"
	TaskTypePitchReview     = "pitch_review"
)

// Review task statuses.
const (
	ReviewStatusPending   = "pending"
	ReviewStatusApproved  = "approved"
	ReviewStatusRejected  = "rejected"
	ReviewStatusCompleted = "completed"
	ReviewStatusFailed    = "failed"
)

// Client plan tiers.
const (
	PlanFree        = "free"
	PlanPaidBasic   = "paid_basic"
	PlanPaidPremium = "paid_premium"
)

// Campaign is a client's outreach campaign. Keywords drive discovery;
// the ideal description drives vetting.
type Campaign struct {
	ID               string
	PersonID         int64
	Name             string
	Keywords         []string
	IdealDescription string
	Questionnaire    *Questionnaire
	Embedding        []float32
	AutoDiscovery    AutoDiscoveryState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AutoDiscoveryState holds the per-campaign controller state.
type AutoDiscoveryState struct {
	Enabled       bool
	Status        string
	LastRun       time.Time
	LastHeartbeat time.Time
	Error         string
	Progress      Progress
}

// Progress is the JSON progress blob updated while a controller run is
// active.
type Progress struct {
	Stage           string    `json:"stage,omitempty"`
	KeywordsTotal   int       `json:"keywords_total,omitempty"`
	KeywordsDone    int       `json:"keywords_done,omitempty"`
	MediaFound      int       `json:"media_found,omitempty"`
	DiscoveriesMade int       `json:"discoveries_made,omitempty"`
	MatchesCreated  int       `json:"matches_created,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Controller progress stages.
const (
	StageFetchingPodcasts    = "fetching_podcasts"
	StageCreatingDiscoveries = "creating_discoveries"
	StageVetting             = "vetting"
)

// Questionnaire is the semi-structured client intake blob. Pointer
// fields distinguish "absent" from "present but empty" so the vetting
// agent can fall back to the ideal description alone.
type Questionnaire struct {
	ExpertiseTopics      []string `json:"expertise_topics,omitempty"`
	SuggestedTopics      []string `json:"suggested_topics,omitempty"`
	KeyMessages          []string `json:"key_messages,omitempty"`
	AudienceRequirements *string  `json:"audience_requirements,omitempty"`
	PreviousShows        []string `json:"previous_shows,omitempty"`
	PromotionItems       []string `json:"promotion_items,omitempty"`
	WebsiteURL           *string  `json:"website_url,omitempty"`
	Bio                  *string  `json:"bio,omitempty"`
}

// Media is a podcast known to the system, canonicalized across source
// directories by RSS URL and per-source external ids.
type Media struct {
	ID                int64
	RSSURL            string
	SourceIDs         map[string]string
	Name              string
	Description       string
	AIDescription     string
	HostNames         []string
	HostConfidence    float32
	ContactEmail      string
	Category          string
	Language          string
	EpisodeCount      int
	AudienceSize      int64
	QualityScore      float32
	SocialURLs        []string
	CompiledSummaries string
	DescriptionLock   string
	LastEnrichedAt    time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Episode belongs to a media row. (MediaID, SourceAPI, ExternalID) is
// unique. An empty Transcript means none has been produced yet.
type Episode struct {
	ID          int64
	MediaID     int64
	SourceAPI   string
	ExternalID  string
	Title       string
	PublishedAt time.Time
	DurationSec int
	Description string
	AudioURL    string
	Transcript  string
	AISummary   string
	Themes      []string
	Keywords    []string
	Embedding   []float32
	CreatedAt   time.Time
}

// Discovery is the pipeline record for one (campaign, media) pair; the
// unit of work driven from discovered to ready-for-review.
type Discovery struct {
	ID                string
	CampaignID        string
	MediaID           int64
	Keyword           string
	EnrichmentStatus  string
	EnrichmentError   string
	VettingStatus     string
	VettingError      string
	VettingLock       string
	VettingScore      int
	VettingReasoning  string
	TopicMatch        string
	MatchedExpertise  []string
	CriteriaScores    []CriterionScore
	Checklist         []ChecklistItem
	MatchCreated      bool
	MatchSuggestionID string
	ReviewTaskCreated bool
	ReviewTaskID      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChecklistItem is one weighted vetting criterion generated for a
// campaign's ideal guest profile.
type ChecklistItem struct {
	Criterion string `json:"criterion"`
	Reasoning string `json:"reasoning"`
	Weight    int    `json:"weight"`
}

// CriterionScore is the scored counterpart of a checklist item.
type CriterionScore struct {
	Criterion     string `json:"criterion"`
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// VettingResult is the agent's full output for one discovery. The agent
// never writes the store; the vetting worker persists this.
type VettingResult struct {
	Score            int
	Reasoning        string
	TopicMatch       string
	CriteriaScores   []CriterionScore
	Checklist        []ChecklistItem
	MatchedExpertise []string
}

// MatchSuggestion is a vetted discovery promoted for client review.
type MatchSuggestion struct {
	ID               string
	CampaignID       string
	MediaID          int64
	Score            float32
	MatchedKeywords  []string
	Reasoning        string
	VettingScore     int
	VettingReasoning string
	Checklist        []ChecklistItem
	BestEpisodeID    *int64
	Status           string
	ClientApprovedAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReviewTask is a work item for a human reviewer. RelatedID is a
// polymorphic reference resolved via TaskType.
type ReviewTask struct {
	ID         string
	TaskType   string
	RelatedID  string
	CampaignID string
	Status     string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ClientProfile carries plan and allowance counters for one person.
type ClientProfile struct {
	PersonID                 int64
	Plan                     string
	WeeklyMatchAllowance     int
	CurrentWeeklyMatches     int
	DailyDiscoveryAllowance  int
	CurrentDailyDiscoveries  int
	WeeklyDiscoveryAllowance int
	CurrentWeeklyDiscoveries int
	AutoWeeklyMatches        int
	LastWeeklyReset          time.Time
	LastDailyReset           time.Time
}

// IsPaid reports whether the profile is on a paid tier.
func (p ClientProfile) IsPaid() bool {
	return p.Plan == PlanPaidBasic || p.Plan == PlanPaidPremium
}

// AutoWeeklyCap is the weekly auto-discovery match cap for paid plans.
const AutoWeeklyCap = 200

// RemainingMatches returns how many matches auto-discovery may still
// create this week for the profile's plan.
func (p ClientProfile) RemainingMatches() int {
	var remaining int
	if p.IsPaid() {
		remaining = AutoWeeklyCap - p.AutoWeeklyMatches
	} else {
		remaining = p.WeeklyMatchAllowance - p.CurrentWeeklyMatches
	}

	if remaining < 0 {
		return 0
	}

	return remaining
}
