package chatview

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/you/gg-hub/internal/core"
)

// DemoConfig drives the synthetic viewer feed that fills the chat while
// no real ingest is wired up.
type DemoConfig struct {
	Enabled   bool
	Interval  time.Duration
	Chance    float64 // probability a tick emits a message
	SubChance float64 // probability the message carries a sub badge
}

var demoLines = []string{
	"This is so exciting!",
	"Great gameplay! 🎮",
	"When does the next match start?",
	"The graphics are incredible",
	"Go team blue! 💙",
	"This player is insane!",
	"Best stream on the platform",
	"Love the camera angles 📹",
	"Who's your favorite player?",
	"This tournament is epic! 🏆",
	"Amazing stream quality!",
	"Can't wait for the finals!",
	"Such good commentary",
	"This game is intense! 🔥",
}

var demoUsers = []string{
	"GamerX", "StreamFan", "EsportsLover", "ProPlayer", "TournamentWatcher",
	"GameMaster", "StreamViewer", "EpicGamer", "ChatModerator", "FanBoy2025",
	"ESportsKing", "GameChampion", "StreamAddict", "TourneyFan",
}

func (c *Controller) runDemoFeed(ctx context.Context, sessionID string) {
	interval := c.cfg.Demo.Interval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	chance := c.cfg.Demo.Chance
	if chance <= 0 {
		chance = 0.35
	}
	subChance := c.cfg.Demo.SubChance
	if subChance <= 0 {
		subChance = 0.15
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rng.Float64() >= chance {
				continue
			}
			msg := c.mintDemoMessage(rng, sessionID, subChance)
			if !c.ingestViewer(msg, sessionID) {
				return // session flipped under us
			}
			go c.persist(msg, sessionID, false)
		}
	}
}

func (c *Controller) mintDemoMessage(rng *rand.Rand, sessionID string, subChance float64) core.ChatMessage {
	now := time.Now().UTC()
	var badges []string
	if rng.Float64() < subChance {
		badges = []string{"sub"}
	}
	return core.ChatMessage{
		ID:        "demo_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + idSuffix(),
		Ts:        now,
		Username:  demoUsers[rng.Intn(len(demoUsers))],
		Text:      demoLines[rng.Intn(len(demoLines))],
		Badges:    badges,
		SessionID: sessionID,
	}
}

// ingestViewer appends an externally produced viewer message if the
// session is still current. Returns false when the message is stale.
func (c *Controller) ingestViewer(msg core.ChatMessage, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return false
	}
	c.appendLocked(msg)
	if !msg.IsSystem {
		c.counts[strings.ToLower(msg.Username)]++
	}
	return true
}
