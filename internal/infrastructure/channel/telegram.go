package channel

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

const telegramMaxMessage = 4096

// Telegram posts an HTML message to one chat through the Bot API
type Telegram struct {
	base
}

// NewTelegram creates the Telegram channel
func NewTelegram(opts Options, deps Deps) *Telegram {
	return &Telegram{base: newBase(integration.ChannelTypeTelegram, opts, deps,
		[]string{"bot_token", "chat_id"},
		nil,
		nil,
	)}
}

func (c *Telegram) method(creds integration.Credentials, name string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, creds.String("bot_token"), name)
}

func (c *Telegram) message(l *lead.Lead, creds integration.Credentials) string {
	mapped := c.mapFlat(l, creds, fieldmap.SectionTelegram)
	title, _ := mapped["title"].(string)
	text, _ := mapped["text"].(string)

	msg := text
	if title != "" {
		msg = "<b>" + html.EscapeString(title) + "</b>"
		if text != "" {
			msg += "\n\n" + text
		}
	}
	return truncateHTML(msg, telegramMaxMessage)
}

// truncateHTML keeps at most limit visible characters of an HTML message.
// Tags are not counted, an entity counts as one character, the cut never
// lands inside a tag or entity and tags left open are closed.
func truncateHTML(msg string, limit int) string {
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	var (
		b       strings.Builder
		open    []string
		visible int
	)
scan:
	for i := 0; i < len(msg); {
		switch msg[i] {
		case '<':
			end := strings.IndexByte(msg[i:], '>')
			if end < 0 {
				break scan
			}
			tag := msg[i : i+end+1]
			name := tagName(tag)
			switch {
			case strings.HasPrefix(tag, "</"):
				if n := len(open); n > 0 && open[n-1] == name {
					open = open[:n-1]
				}
			case !strings.HasSuffix(tag, "/>") && name != "":
				if visible >= limit {
					break scan
				}
				open = append(open, name)
			}
			b.WriteString(tag)
			i += end + 1
			continue
		case '&':
			if end := strings.IndexByte(msg[i:], ';'); end > 0 && end <= 10 {
				if visible >= limit {
					break scan
				}
				b.WriteString(msg[i : i+end+1])
				visible++
				i += end + 1
				continue
			}
		}
		if visible >= limit {
			break
		}
		r, size := utf8.DecodeRuneInString(msg[i:])
		b.WriteRune(r)
		visible++
		i += size
	}
	for n := len(open) - 1; n >= 0; n-- {
		b.WriteString("</" + open[n] + ">")
	}
	return b.String()
}

func tagName(tag string) string {
	name := strings.TrimLeft(tag, "</")
	if i := strings.IndexAny(name, " />"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Send posts the lead message via sendMessage
func (c *Telegram) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		body := map[string]any{
			"chat_id":                  creds.String("chat_id"),
			"text":                     c.message(l, creds),
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}
		resp, err := c.deps.HTTP.Post(ctx, c.method(creds, "sendMessage"), body)
		if err != nil {
			return transportFailure(err)
		}
		if !telegramOK(resp) {
			return remoteFailure(resp)
		}
		id, _ := lookup(resp.JSON(), "result", "message_id")
		return integration.Success("Lead sent to Telegram", idString(id), nil)
	})
}

// Update sends the message again; Telegram has no lead to update
func (c *Telegram) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.Send(ctx, l, creds)
}

// TestConnection calls getMe
func (c *Telegram) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Get(ctx, c.method(creds, "getMe"))
		if err != nil {
			return transportFailure(err)
		}
		if !telegramOK(resp) {
			return remoteFailure(resp)
		}
		username, _ := lookup(resp.JSON(), "result", "username")
		return integration.Success("Connected to Telegram", "", map[string]any{"bot": idString(username)})
	})
}

func telegramOK(resp *httpclient.Response) bool {
	ok, _ := resp.JSON()["ok"].(bool)
	return resp.IsSuccess() && ok
}
