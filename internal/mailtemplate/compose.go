// Package mailtemplate composes the outbound emails: released legacy
// messages, check-in reminders and locker inheritance notices.
package mailtemplate

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

const dateLayout = "January 2, 2006 15:04 MST"

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif; max-width: 640px; margin: auto;">
<h2>{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .Body}}<div style="border-left: 3px solid #ccc; padding-left: 12px;">{{.Body}}</div>
{{end}}{{if .LinkURL}}<p><a href="{{.LinkURL}}">{{.LinkText}}</a></p>
{{end}}<p style="color: #888; font-size: 12px;">Sent by AfterYou.</p>
</body></html>`))

type layoutData struct {
	Heading    string
	Paragraphs []string
	Body       template.HTML
	LinkURL    string
	LinkText   string
}

// Composer builds emails. Links point at the frontend.
type Composer struct {
	frontendURL string
}

// New creates a Composer for the given frontend base URL.
func New(frontendURL string) *Composer {
	return &Composer{frontendURL: strings.TrimRight(frontendURL, "/")}
}

// MessageURL returns the recipient's view link for an access token.
func (c *Composer) MessageURL(token string) string {
	return fmt.Sprintf("%s/legacy/message/%s", c.frontendURL, token)
}

// LegacyMessage composes the email releasing msg to its recipient. senderName
// is used for original messages; chain replies carry their own sender name.
func (c *Composer) LegacyMessage(msg model.Message, senderName string) model.Email {
	link := c.MessageURL(msg.RecipientAccessToken)

	subject := "Legacy Message: " + msg.Title
	intro := fmt.Sprintf("%s left a message for you with AfterYou.", fallback(senderName, "Someone"))
	if msg.IsChainReply() {
		subject = "Legacy Chain Message: " + msg.Title
		intro = fmt.Sprintf("%s continued a message chain with you (generation %d).",
			fallback(msg.SenderName, "Anonymous"), msg.Generation)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hello,\n\n%s\n\n", intro)
	fmt.Fprintf(&text, "Title: %s\n\n%s\n\n", msg.Title, msg.Content)
	fmt.Fprintf(&text, "View this message or continue the chain: %s\n", link)

	return model.Email{
		To:      msg.RecipientEmail,
		Subject: subject,
		Text:    text.String(),
		HTML: render(layoutData{
			Heading:    msg.Title,
			Paragraphs: []string{"Hello,", intro},
			Body:       template.HTML(RenderMarkdown(msg.Content)), //nolint:gosec // sanitized by bluemonday
			LinkURL:    link,
			LinkText:   "View or continue this message",
		}),
	}
}

// CheckInReminder composes the notification sent when a user misses a check-in.
func (c *Composer) CheckInReminder(user model.User, graceDeadline time.Time) model.Email {
	link := c.frontendURL + "/check-in"
	lines := []string{
		fmt.Sprintf("Hello %s,", fallback(user.Name, "there")),
		fmt.Sprintf("You have not checked in since %s.", user.LastCheckIn.UTC().Format(dateLayout)),
		fmt.Sprintf("If you do not check in before %s, your legacy messages will be delivered to their recipients.",
			graceDeadline.UTC().Format(dateLayout)),
	}

	return model.Email{
		To:      user.Email,
		Subject: "AfterYou: please check in",
		Text:    strings.Join(lines, "\n\n") + "\n\nCheck in: " + link + "\n",
		HTML: render(layoutData{
			Heading:    "Time to check in",
			Paragraphs: lines,
			LinkURL:    link,
			LinkText:   "Check in now",
		}),
	}
}

// InheritanceOTP composes the email carrying the one-time passcode to the inheritor.
func (c *Composer) InheritanceOTP(locker model.DigitalLocker, ownerName, code string, expiresAt time.Time) model.Email {
	link := fmt.Sprintf("%s/locker/%d/access", c.frontendURL, locker.ID)
	lines := []string{
		fmt.Sprintf("Hello %s,", fallback(locker.InheritorName, "there")),
		fmt.Sprintf("%s named you as the inheritor of their digital locker.", fallback(ownerName, "An AfterYou user")),
		fmt.Sprintf("Your one-time access code is %s. It expires at %s and allows %d attempts.",
			code, expiresAt.UTC().Format(dateLayout), locker.AccessAttemptsLimit),
	}

	return model.Email{
		To:      locker.InheritorEmail,
		Subject: "AfterYou: digital locker access code",
		Text:    strings.Join(lines, "\n\n") + "\n\nAccess the locker: " + link + "\n",
		HTML: render(layoutData{
			Heading:    "Digital locker access",
			Paragraphs: lines,
			LinkURL:    link,
			LinkText:   "Access the locker",
		}),
	}
}

// AccessGranted confirms a successful locker access to the inheritor.
func (c *Composer) AccessGranted(locker model.DigitalLocker, credentialCount int, at time.Time) model.Email {
	lines := []string{
		fmt.Sprintf("Hello %s,", fallback(locker.InheritorName, "there")),
		fmt.Sprintf("The digital locker was opened at %s and %d credentials were released.",
			at.UTC().Format(dateLayout), credentialCount),
		"If this was not you, contact support immediately.",
	}

	return model.Email{
		To:      locker.InheritorEmail,
		Subject: "AfterYou: digital locker accessed",
		Text:    strings.Join(lines, "\n\n") + "\n",
		HTML: render(layoutData{
			Heading:    "Locker accessed",
			Paragraphs: lines,
		}),
	}
}

func render(data layoutData) string {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
