// Package chat implements the ChatCoordinator of §4.7: round-id
// formatting and target-round assignment, input sanitization and spam
// rejection, per-round quotas, and the delivery/reply lifecycle that
// tradeWindow drives.
package chat

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/google/uuid"
)

// Config parameterizes one simulation's chat policy (§6 CHAT_* options).
type Config struct {
	Mode                domain.Mode
	TradeIntervalHours  float64
	MaxMessagesPerAgent int
	MaxMessagesPerUser  int
	MaxMessageLength    int
}

// Coordinator applies Config to a simulation's chat state.
type Coordinator struct {
	cfg Config
}

// New creates a Coordinator bound to cfg.
func New(cfg Config) *Coordinator {
	if cfg.MaxMessagesPerAgent <= 0 {
		cfg.MaxMessagesPerAgent = 3
	}
	if cfg.MaxMessagesPerUser <= 0 {
		cfg.MaxMessagesPerUser = 5
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 280
	}
	if cfg.TradeIntervalHours <= 0 {
		cfg.TradeIntervalHours = 2.0
	}
	return &Coordinator{cfg: cfg}
}

// FormatRoundID renders the round identity used to correlate messages
// with a tradeWindow invocation.
func FormatRoundID(day int, intradayHour float64) string {
	return fmt.Sprintf("%d-%.3f", day, intradayHour)
}

func (c *Coordinator) sessionCap() float64 {
	if c.cfg.Mode == domain.ModeRealtime {
		return 7.0
	}
	return 6.5
}

// nextBoundary returns the next trade-window boundary strictly after
// (day, hour), rolling over to (day+1, 0) once the boundary would reach
// or exceed the session cap.
func (c *Coordinator) nextBoundary(day int, hour float64) (int, float64) {
	interval := c.cfg.TradeIntervalHours
	n := math.Floor(hour/interval) + 1
	nextHour := n * interval
	if nextHour >= c.sessionCap() {
		return day + 1, 0
	}
	return day, nextHour
}

// AssignTargetRound computes the round an incoming message should be
// delivered in, applying the 60-second safety buffer (§4.7): when 60
// seconds or fewer remain until the next round boundary, the message
// skips ahead to the round after that one.
func (c *Coordinator) AssignTargetRound(day int, hour float64, secondsUntilNextRound float64) (int, float64) {
	targetDay, targetHour := c.nextBoundary(day, hour)
	if secondsUntilNextRound <= 60 {
		targetDay, targetHour = c.nextBoundary(targetDay, targetHour)
	}
	return targetDay, targetHour
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	usernameStrip  = regexp.MustCompile(`[^A-Za-z0-9 _.\-]`)
	urlPattern     = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	domainPattern  = regexp.MustCompile(`(?i)\b[a-z0-9-]+\.[a-z]{2,10}\b`)
)

// SanitizeUsername trims, collapses whitespace, strips disallowed
// characters, and caps length (§4.7 input rules). An empty result after
// cleanup is rejected.
func SanitizeUsername(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = usernameStrip.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		return "", marketsimerr.New(marketsimerr.KindInvalidArgument, "username is empty after sanitization", nil)
	}
	return s, nil
}

// containsSpamIndicator reports whether content looks like a URL or bare
// domain (§4.7 spam indicators).
func containsSpamIndicator(content string) bool {
	return urlPattern.MatchString(content) || domainPattern.MatchString(content)
}

// SanitizeContent collapses whitespace, trims, caps at maxLength, and
// rejects spam-indicator content or an empty result.
func SanitizeContent(raw string, maxLength int) (string, error) {
	s := strings.TrimSpace(raw)
	s = whitespaceRun.ReplaceAllString(s, " ")
	if containsSpamIndicator(s) {
		return "", marketsimerr.New(marketsimerr.KindInvalidArgument, "message content looks like a URL or domain", nil)
	}
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", marketsimerr.New(marketsimerr.KindInvalidArgument, "message content is empty after sanitization", nil)
	}
	return s, nil
}

// Submit validates an incoming user message and returns it with status
// pending and its computed target round id, without mutating existing.
func (c *Coordinator) Submit(username, targetAgentID, targetAgentName, content string, day int, hour float64, secondsUntilNextRound float64, existing []domain.ChatMessage) (domain.ChatMessage, error) {
	cleanUser, err := SanitizeUsername(username)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	cleanContent, err := SanitizeContent(content, c.cfg.MaxMessageLength)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	targetDay, targetHour := c.AssignTargetRound(day, hour, secondsUntilNextRound)
	roundID := FormatRoundID(targetDay, targetHour)

	if err := c.checkQuotas(existing, cleanUser, targetAgentID, roundID); err != nil {
		return domain.ChatMessage{}, err
	}

	return domain.ChatMessage{
		ID:              uuid.NewString(),
		SenderType:      domain.SenderUser,
		SenderName:      cleanUser,
		TargetAgentID:   targetAgentID,
		TargetAgentName: targetAgentName,
		Content:         cleanContent,
		RoundID:         roundID,
		Status:          domain.ChatStatusPending,
	}, nil
}

func (c *Coordinator) checkQuotas(existing []domain.ChatMessage, username, targetAgentID, roundID string) error {
	userCount := 0
	agentCount := 0
	lowerUser := strings.ToLower(username)
	for _, m := range existing {
		if m.RoundID != roundID || m.SenderType != domain.SenderUser {
			continue
		}
		if strings.ToLower(m.SenderName) == lowerUser {
			userCount++
		}
		if m.TargetAgentID == targetAgentID {
			agentCount++
		}
	}
	if userCount >= c.cfg.MaxMessagesPerUser {
		return marketsimerr.New(marketsimerr.KindInvalidArgument, "user message quota exceeded for this round", nil)
	}
	if agentCount >= c.cfg.MaxMessagesPerAgent {
		return marketsimerr.New(marketsimerr.KindInvalidArgument, "agent message quota exceeded for this round", nil)
	}
	return nil
}

// DeliverPending transitions every pending message to delivered,
// stamping it with the current round id, regardless of its previously
// assigned round id (§4.4 step 2).
func DeliverPending(messages []domain.ChatMessage, currentRoundID string) {
	for i := range messages {
		if messages[i].Status == domain.ChatStatusPending {
			messages[i].Status = domain.ChatStatusDelivered
			messages[i].RoundID = currentRoundID
		}
	}
}

// MessagesForAgent returns the delivered messages targeting agentID in
// the current round, capped at the per-agent quota.
func MessagesForAgent(messages []domain.ChatMessage, agentID, roundID string, cap int) []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, m := range messages {
		if m.Status != domain.ChatStatusDelivered || m.RoundID != roundID || m.TargetAgentID != agentID {
			continue
		}
		out = append(out, m)
		if len(out) >= cap {
			break
		}
	}
	return out
}

// mentionPrefix builds the "@user1 @user2 " prefix for the unique senders
// in msgs, preserving first-seen order.
func mentionPrefix(msgs []domain.ChatMessage) string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range msgs {
		if seen[m.SenderName] {
			continue
		}
		seen[m.SenderName] = true
		names = append(names, "@"+m.SenderName)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, " ") + " "
}

// ApplyReply sanitizes an agent's reply, prefixes it with mentions of the
// users it is addressing, and upserts it into messages: replacing an
// existing agent message for (agentID, roundID) if one exists, appending
// otherwise. It returns the final reply text, or "" if nothing survived
// sanitization and trimming.
func (c *Coordinator) ApplyReply(messages *[]domain.ChatMessage, agentID, agentName, roundID, rawReply string, targetedThisRound []domain.ChatMessage) string {
	if rawReply == "" {
		return ""
	}

	cleaned := strings.TrimSpace(rawReply)
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = urlPattern.ReplaceAllString(cleaned, "")
	cleaned = domainPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}

	prefix := mentionPrefix(targetedThisRound)
	budget := c.cfg.MaxMessageLength - len(prefix)
	if budget <= 0 {
		return ""
	}
	if len(cleaned) > budget {
		cleaned = cleaned[:budget]
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}

	final := prefix + cleaned

	for i, m := range *messages {
		if m.SenderType == domain.SenderAgent && m.SenderAgentID == agentID && m.RoundID == roundID {
			(*messages)[i].Content = final
			(*messages)[i].SenderName = agentName
			return final
		}
	}

	*messages = append(*messages, domain.ChatMessage{
		ID:            uuid.NewString(),
		SenderType:    domain.SenderAgent,
		SenderAgentID: agentID,
		SenderName:    agentName,
		Content:       final,
		RoundID:       roundID,
	})
	return final
}

// ResolveRound marks every delivered message for agentID in roundID as
// responded (if replied) or ignored (otherwise) — §4.4 step 9 / §4.7
// step 5.
func ResolveRound(messages []domain.ChatMessage, agentID, roundID string, replied bool) {
	status := domain.ChatStatusIgnored
	if replied {
		status = domain.ChatStatusResponded
	}
	for i := range messages {
		m := &messages[i]
		if m.Status == domain.ChatStatusDelivered && m.TargetAgentID == agentID && m.RoundID == roundID {
			m.Status = status
		}
	}
}
