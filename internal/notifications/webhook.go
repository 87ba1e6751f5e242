package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/tethra-tap/internal/httputil"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/sirupsen/logrus"
)

// Level colours a notice in chat and picks its log level.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelFailure
)

// Discord embed colours.
var levelColors = map[Level]int{
	LevelInfo:    0x5865F2,
	LevelSuccess: 0x2ECC71,
	LevelFailure: 0xE74C3C,
}

// Notice is one chat message: a short title and a one-line body.
type Notice struct {
	Title string
	Body  string
	Level Level
}

func (n Notice) text() string {
	if n.Title == "" {
		return n.Body
	}
	return n.Title + ": " + n.Body
}

// Sender posts notices to a Discord or Slack webhook. Without a webhook URL
// notices are only logged.
type Sender struct {
	webhookURL string
	botName    string
	discord    bool
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logrus.Entry
}

func NewSender(webhookURL, botName string, log *logger.Logger) *Sender {
	if botName == "" {
		botName = "TethraTap"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		discord:    strings.Contains(webhookURL, "discord"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
		},
		log: log.WithComponent("notify"),
	}
}

func (s *Sender) Enabled() bool { return s.webhookURL != "" }

// Send posts a plain informational message.
func (s *Sender) Send(msg string) {
	s.Notify(Notice{Body: msg})
}

// Notify logs n and, when a webhook is configured, posts it. Delivery
// failures are logged and never returned.
func (s *Sender) Notify(n Notice) {
	entry := s.log.WithField("title", n.Title)
	if n.Level == LevelFailure {
		entry.Warn(n.Body)
	} else {
		entry.Info(n.Body)
	}
	if !s.Enabled() {
		return
	}

	body, err := json.Marshal(s.payload(n))
	if err != nil {
		s.log.WithError(err).Error("Marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.WithError(err).WithField("title", n.Title).Warn("Notice not delivered")
		return
	}
	resp.Body.Close()
}

type discordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type slackPayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

func (s *Sender) payload(n Notice) interface{} {
	if s.discord {
		p := discordPayload{Username: s.botName, Content: fmt.Sprintf("[%s] %s", s.botName, n.text())}
		if n.Title != "" {
			p.Embeds = []discordEmbed{{Title: n.Title, Description: n.Body, Color: levelColors[n.Level]}}
		}
		return p
	}
	text := fmt.Sprintf("`[%s] %s`", s.botName, n.Body)
	if n.Title != "" {
		text = fmt.Sprintf("*%s*\n%s", n.Title, text)
	}
	return slackPayload{Username: s.botName, Text: text}
}
