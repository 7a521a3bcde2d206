package insight

// Sentiment is the overall mood extracted from a batch of chat messages.
type Sentiment struct {
	Overall    string  `json:"overall"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Highlight is a single notable message surfaced by the analysis.
type Highlight struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// Topic is a discussion theme with its mention count.
type Topic struct {
	Topic     string `json:"topic"`
	Mentions  int    `json:"mentions"`
	Sentiment string `json:"sentiment"`
}

// Engagement describes how active the chat is.
type Engagement struct {
	Level            string   `json:"level"`
	Indicators       []string `json:"indicators"`
	UniqueUsers      int      `json:"unique_users"`
	AvgMessageLength float64  `json:"average_message_length"`
}

// SentimentReport is the full result of a chat sentiment analysis.
// Fallback reports carry the same shape with conservative values so
// callers never need a nil check.
type SentimentReport struct {
	Sentiment        Sentiment   `json:"sentiment"`
	Summary          string      `json:"summary"`
	Highlights       []Highlight `json:"highlights"`
	Topics           []Topic     `json:"topics"`
	Engagement       Engagement  `json:"engagement"`
	Recommendations  []string    `json:"recommendations"`
	AnalyzedMessages int         `json:"analyzed_messages"`
	Model            string      `json:"model,omitempty"`
}

// CommunityHealth scores the mix of new and veteran chatters.
type CommunityHealth struct {
	NewcomerRetention string `json:"newcomer_retention"`
	VeteranEngagement string `json:"veteran_engagement"`
	OverallScore      int    `json:"overall_score"`
}

// BadgeAnalysis is the model's read on the badge distribution.
type BadgeAnalysis struct {
	EngagementQuality    string          `json:"engagement_quality"`
	DistributionAnalysis string          `json:"distribution_analysis"`
	Insights             []string        `json:"insights"`
	CommunityHealth      CommunityHealth `json:"community_health"`
	Recommendations      []string        `json:"recommendations"`
}

// BadgeReport pairs the locally computed badge distribution with the
// model's analysis. Distribution keys are badge levels "1".."6".
type BadgeReport struct {
	Distribution  map[string]int `json:"distribution"`
	TotalUsers    int            `json:"total_users"`
	TotalMessages int            `json:"total_messages"`
	Analysis      *BadgeAnalysis `json:"analysis"`
}
