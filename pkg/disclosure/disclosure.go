// Package disclosure sends secrets to chat users as messages that delete
// themselves after a short time.
package disclosure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

// ErrEmptyRecipient is returned when no recipient is given.
var ErrEmptyRecipient = errors.New("disclosure: recipient is required")

// SendOptions are per-message delivery flags.
type SendOptions struct {
	// ProtectContent asks the channel to block forwarding and saving.
	ProtectContent bool
}

// Channel is a chat transport able to delete what it sent.
type Channel interface {
	Send(ctx context.Context, recipient, text string, opts SendOptions) (messageID string, err error)
	Delete(ctx context.Context, recipient, messageID string) error
}

// Profile controls how long a disclosed message lives.
type Profile struct {
	Name string
	// DeleteAfter of zero keeps the message.
	DeleteAfter       time.Duration
	PreventForwarding bool
}

// Built-in profiles.
var (
	PrivateKey = Profile{Name: "private-key", DeleteAfter: 30 * time.Second, PreventForwarding: true}
	Mnemonic   = Profile{Name: "mnemonic", DeleteAfter: 60 * time.Second, PreventForwarding: true}
	Standard   = Profile{Name: "standard"}
)

// deleteTimeout bounds a single deletion call.
const deleteTimeout = 10 * time.Second

// Discloser sends messages over a Channel and deletes them on schedule.
type Discloser struct {
	channel Channel
	group   *threading.RoutineGroup
	after   func(time.Duration) <-chan time.Time
}

// New returns a Discloser over channel.
func New(channel Channel) *Discloser {
	return &Discloser{
		channel: channel,
		group:   threading.NewRoutineGroup(),
		after:   time.After,
	}
}

// Disclose sends content to recipient and, if the profile says so,
// schedules its deletion. A failed deletion is logged and not returned;
// the message id is returned either way.
//
// The deletion runs detached from ctx so that a request ending does not
// leave the secret on screen. Cancelling ctx before the send aborts it.
func (d *Discloser) Disclose(ctx context.Context, recipient, content string, profile Profile) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}

	id, err := d.channel.Send(ctx, recipient, content, SendOptions{ProtectContent: profile.PreventForwarding})
	if err != nil {
		return "", fmt.Errorf("disclosure: send failed: %w", err)
	}
	if profile.DeleteAfter <= 0 {
		return id, nil
	}

	d.group.RunSafe(func() {
		<-d.after(profile.DeleteAfter)

		dctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := d.channel.Delete(dctx, recipient, id); err != nil {
			logx.Errorf("disclosure: failed to delete %s message %s: %v", profile.Name, id, err)
		}
	})
	return id, nil
}

// Wait blocks until every scheduled deletion has run.
func (d *Discloser) Wait() {
	d.group.Wait()
}

// FormatSecret renders a secret for display with a notice of when the
// message disappears.
func FormatSecret(label, secret string, profile Profile) string {
	var b strings.Builder
	b.WriteString("🔐 ")
	b.WriteString(label)
	b.WriteString("\n\n")
	b.WriteString(secret)
	b.WriteString("\n\n")
	if profile.DeleteAfter > 0 {
		fmt.Fprintf(&b, "⚠️ This message will be deleted in %s. ", formatDelay(profile.DeleteAfter))
	}
	b.WriteString("Never share it with anyone.")
	return b.String()
}

func formatDelay(d time.Duration) string {
	if d%time.Minute == 0 {
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return fmt.Sprintf("%d seconds", int(d.Round(time.Second)/time.Second))
}
