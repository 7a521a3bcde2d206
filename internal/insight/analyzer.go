package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/you/gg-hub/internal/config"
	"github.com/you/gg-hub/internal/core"
)

const (
	defaultPromptCap = 50

	systemPrompt = "You are an analytics assistant for a live stream platform. " +
		"Always answer with a single JSON object and nothing else."
)

// Analyzer turns batches of chat messages into sentiment and badge
// reports. Every analyze call returns a usable report; when the chat
// model is unavailable or misbehaves, a conservative fallback report
// is returned instead of an error.
type Analyzer struct {
	cfg       config.AIConfig
	promptCap int

	mu    sync.RWMutex
	model model.ChatModel
	chain compose.Runnable[map[string]any, *schema.Message]
}

// New builds an analyzer from config. A missing or broken model is not
// fatal; the analyzer degrades to fallback reports until Reload succeeds.
func New(ctx context.Context, cfg config.AIConfig, promptCap int) *Analyzer {
	a := &Analyzer{cfg: cfg, promptCap: promptCap}
	if a.promptCap <= 0 {
		a.promptCap = defaultPromptCap
	}
	if !cfg.Enabled() {
		return a
	}
	if err := a.Reload(ctx); err != nil {
		slog.Warn("insight: chat model unavailable, using fallback analysis", "err", err)
	}
	return a
}

// NewWithModel wires an already built chat model. Used by tests and by
// callers that manage model construction themselves.
func NewWithModel(ctx context.Context, cfg config.AIConfig, cm model.ChatModel) (*Analyzer, error) {
	a := &Analyzer{cfg: cfg, promptCap: defaultPromptCap}
	if err := a.swap(ctx, cm); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-resolves the API key (re-reading the key file if one is
// configured) and rebuilds the model and chain. Safe to call while
// analyses are in flight.
func (a *Analyzer) Reload(ctx context.Context) error {
	cfg := a.cfg
	if cfg.KeyFile != "" {
		b, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return errors.Wrap(err, "read ai key file")
		}
		cfg.APIKey = strings.TrimSpace(string(b))
	}
	if cfg.APIKey == "" {
		return errors.New("no api key configured")
	}
	cm, err := cfg.NewChatModel(ctx)
	if err != nil {
		return errors.Wrap(err, "build chat model")
	}
	return a.swap(ctx, cm)
}

func (a *Analyzer) swap(ctx context.Context, cm model.ChatModel) error {
	tmpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tmpl)
	chain.AppendChatModel(cm)
	runnable, err := chain.Compile(ctx)
	if err != nil {
		return errors.Wrap(err, "compile analysis chain")
	}
	a.mu.Lock()
	a.model = cm
	a.chain = runnable
	a.mu.Unlock()
	return nil
}

// Ready reports whether a chat model is wired in.
func (a *Analyzer) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chain != nil
}

func (a *Analyzer) invoke(ctx context.Context, query string) (string, error) {
	a.mu.RLock()
	chain := a.chain
	a.mu.RUnlock()
	if chain == nil {
		return "", errors.New("analysis model not configured")
	}
	out, err := chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  query,
	})
	if err != nil {
		return "", errors.Wrap(err, "run analysis chain")
	}
	return out.Content, nil
}

// TestConnection sends a minimal round trip through the model.
func (a *Analyzer) TestConnection(ctx context.Context) error {
	_, err := a.invoke(ctx, "Respond with 'Connection successful' if you can read this.")
	return err
}

// AnalyzeChatSentiment analyzes the mood and topics of a message batch.
// streamContext is free-form background for the model, e.g. the stream
// title.
func (a *Analyzer) AnalyzeChatSentiment(ctx context.Context, msgs []core.ChatMessage, streamContext string) *SentimentReport {
	if len(msgs) == 0 {
		return emptySentimentReport("No messages to analyze yet.")
	}
	user := filterUserMessages(msgs)
	if len(user) == 0 {
		return emptySentimentReport("Only system messages detected.")
	}

	raw, err := a.invoke(ctx, a.sentimentPrompt(user, streamContext))
	if err != nil {
		slog.Warn("insight: sentiment analysis failed", "err", err)
		return a.fallbackSentiment(user)
	}

	rep := decodeSentiment(raw)
	rep.Engagement.UniqueUsers = countUniqueUsers(user)
	rep.Engagement.AvgMessageLength = averageLength(user)
	rep.AnalyzedMessages = len(user)
	rep.Model = a.cfg.Model
	return rep
}

func (a *Analyzer) sentimentPrompt(user []core.ChatMessage, streamContext string) string {
	if streamContext == "" {
		streamContext = "Gaming/Esports live stream"
	}

	var lines []string
	for i, m := range user {
		if i >= a.promptCap {
			break
		}
		tag := m.Username
		if len(m.Badges) > 0 {
			tag += " (" + strings.Join(m.Badges, ",") + ")"
		}
		lines = append(lines, "["+tag+"]: "+m.Text)
	}

	return fmt.Sprintf(`Analyze this live stream chat data and provide insights:

Stream Context: %s
Total Messages: %d
Timeframe: Current live session

Chat Messages:
%s

Please provide a JSON response with the following structure:
{
  "sentiment": {
    "overall": "positive|negative|neutral|excited|mixed",
    "score": -1.0 to 1.0,
    "confidence": 0.0 to 1.0
  },
  "summary": "2-3 sentence summary of overall chat sentiment and what viewers are discussing",
  "highlights": [
    {
      "type": "positive|negative|question|excitement",
      "content": "actual message content",
      "username": "username",
      "reason": "why this message is notable"
    }
  ],
  "topics": [
    {
      "topic": "topic name",
      "mentions": number,
      "sentiment": "positive|negative|neutral"
    }
  ],
  "engagement": {
    "level": "low|medium|high|very_high",
    "indicators": ["what indicates this engagement level"],
    "unique_users": number,
    "average_message_length": number
  },
  "recommendations": [
    "actionable suggestions for the streamer based on chat analysis"
  ]
}

Focus on gaming/esports terminology and be concise but insightful.`,
		streamContext, len(user), strings.Join(lines, "\n"))
}

// decodeSentiment parses model output into a report, clamping list
// lengths and filling defaults for anything the model left out.
func decodeSentiment(raw string) *SentimentReport {
	rep := &SentimentReport{}
	body, ok := extractJSON(raw)
	if !ok || json.Unmarshal([]byte(body), rep) != nil {
		return &SentimentReport{
			Sentiment:       Sentiment{Overall: "neutral", Score: 0, Confidence: 0.5},
			Summary:         "Analysis completed with basic extraction.",
			Highlights:      []Highlight{},
			Topics:          []Topic{},
			Engagement:      Engagement{Level: "medium", Indicators: []string{}},
			Recommendations: []string{},
		}
	}
	if rep.Sentiment.Overall == "" {
		rep.Sentiment.Overall = "neutral"
	}
	if rep.Sentiment.Confidence == 0 {
		rep.Sentiment.Confidence = 0.5
	}
	if rep.Summary == "" {
		rep.Summary = "Chat analysis completed."
	}
	if rep.Engagement.Level == "" {
		rep.Engagement.Level = "medium"
	}
	if len(rep.Highlights) > 5 {
		rep.Highlights = rep.Highlights[:5]
	}
	if len(rep.Topics) > 8 {
		rep.Topics = rep.Topics[:8]
	}
	if len(rep.Recommendations) > 3 {
		rep.Recommendations = rep.Recommendations[:3]
	}
	if rep.Highlights == nil {
		rep.Highlights = []Highlight{}
	}
	if rep.Topics == nil {
		rep.Topics = []Topic{}
	}
	if rep.Engagement.Indicators == nil {
		rep.Engagement.Indicators = []string{}
	}
	if rep.Recommendations == nil {
		rep.Recommendations = []string{}
	}
	return rep
}

func (a *Analyzer) fallbackSentiment(user []core.ChatMessage) *SentimentReport {
	level := "low"
	if len(user) > 10 {
		level = "medium"
	}
	return &SentimentReport{
		Sentiment:  Sentiment{Overall: "neutral", Score: 0, Confidence: 0.1},
		Summary:    "Basic analysis completed. Analysis service temporarily unavailable.",
		Highlights: []Highlight{},
		Topics:     []Topic{},
		Engagement: Engagement{
			Level:            level,
			Indicators:       []string{"Message count"},
			UniqueUsers:      countUniqueUsers(user),
			AvgMessageLength: averageLength(user),
		},
		Recommendations:  []string{"Check network connectivity for full AI analysis"},
		AnalyzedMessages: len(user),
	}
}

func emptySentimentReport(summary string) *SentimentReport {
	return &SentimentReport{
		Sentiment:       Sentiment{Overall: "neutral"},
		Summary:         summary,
		Highlights:      []Highlight{},
		Topics:          []Topic{},
		Engagement:      Engagement{Level: "low", Indicators: []string{}},
		Recommendations: []string{},
	}
}

type userStats struct {
	name     string
	count    int
	totalLen int
}

// AnalyzeBadgeDistribution computes the badge level distribution of the
// batch and asks the model for community health insights on top of it.
func (a *Analyzer) AnalyzeBadgeDistribution(ctx context.Context, msgs []core.ChatMessage) *BadgeReport {
	if len(msgs) == 0 {
		return &BadgeReport{Distribution: map[string]int{}}
	}
	user := filterUserMessages(msgs)

	byUser := map[string]*userStats{}
	var order []*userStats
	for _, m := range user {
		st := byUser[m.Username]
		if st == nil {
			st = &userStats{name: m.Username}
			byUser[m.Username] = st
			order = append(order, st)
		}
		st.count++
		st.totalLen += len([]rune(m.Text))
	}

	dist := map[string]int{}
	for lvl := 1; lvl <= core.MaxBadgeLevel; lvl++ {
		dist[strconv.Itoa(lvl)] = 0
	}
	for _, st := range order {
		dist[strconv.Itoa(core.BadgeLevel(st.count))]++
	}

	// The histogram is computed locally and stays valid even when the
	// model is unreachable; only the narrative is remote.
	rep := &BadgeReport{
		Distribution:  dist,
		TotalUsers:    len(order),
		TotalMessages: len(user),
	}

	raw, err := a.invoke(ctx, badgePrompt(dist, order, len(user)))
	if err != nil {
		slog.Warn("insight: badge analysis failed", "err", err)
		return rep
	}
	rep.Analysis = decodeBadgeAnalysis(raw)
	return rep
}

func badgePrompt(dist map[string]int, order []*userStats, totalMessages int) string {
	top := make([]*userStats, len(order))
	copy(top, order)
	sort.SliceStable(top, func(i, j int) bool { return top[i].count > top[j].count })
	if len(top) > 10 {
		top = top[:10]
	}
	var activity []string
	for _, st := range top {
		avg := 0
		if st.count > 0 {
			avg = st.totalLen / st.count
		}
		activity = append(activity, fmt.Sprintf("%s: %d messages, avg length: %d chars", st.name, st.count, avg))
	}

	return fmt.Sprintf(`Analyze this chat badge distribution and user engagement data:

Badge Distribution:
- Level 1 (%s): %d users
- Level 2 (%s): %d users
- Level 3 (%s): %d users
- Level 4 (%s): %d users
- Level 5 (%s): %d users
- Level 6 (%s): %d users

Total Users: %d
Total Messages: %d

User Activity Patterns:
%s

Provide insights in JSON format:
{
  "engagement_quality": "low|medium|high|excellent",
  "distribution_analysis": "analysis of badge distribution health",
  "insights": [
    "key insights about user engagement patterns"
  ],
  "community_health": {
    "newcomer_retention": "assessment of newcomer activity",
    "veteran_engagement": "assessment of high-level user activity",
    "overall_score": 0-100
  },
  "recommendations": [
    "suggestions to improve engagement based on patterns"
  ]
}`,
		core.BadgeName(1), dist["1"],
		core.BadgeName(2), dist["2"],
		core.BadgeName(3), dist["3"],
		core.BadgeName(4), dist["4"],
		core.BadgeName(5), dist["5"],
		core.BadgeName(6), dist["6"],
		len(order), totalMessages, strings.Join(activity, "\n"))
}

func decodeBadgeAnalysis(raw string) *BadgeAnalysis {
	out := &BadgeAnalysis{}
	body, ok := extractJSON(raw)
	if !ok || json.Unmarshal([]byte(body), out) != nil {
		return &BadgeAnalysis{
			EngagementQuality:    "medium",
			DistributionAnalysis: "Badge distribution analysis completed",
			Insights:             []string{"User engagement patterns identified"},
			CommunityHealth: CommunityHealth{
				NewcomerRetention: "Active newcomer participation",
				VeteranEngagement: "Good veteran user engagement",
				OverallScore:      75,
			},
			Recommendations: []string{"Continue encouraging user participation"},
		}
	}
	return out
}

func filterUserMessages(msgs []core.ChatMessage) []core.ChatMessage {
	var out []core.ChatMessage
	for _, m := range msgs {
		if !m.IsSystem {
			out = append(out, m)
		}
	}
	return out
}

func countUniqueUsers(msgs []core.ChatMessage) int {
	seen := map[string]struct{}{}
	for _, m := range msgs {
		seen[m.Username] = struct{}{}
	}
	return len(seen)
}

func averageLength(msgs []core.ChatMessage) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len([]rune(m.Text))
	}
	return float64(total) / float64(len(msgs))
}

// extractJSON slices the first balanced top-level JSON object out of
// model output that may be wrapped in prose or code fences.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
