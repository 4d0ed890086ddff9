package ui

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

const timeLayout = "15:04:05"

// FormatMessage renders msg as one terminal line:
//
//	15:04:05 #builds AGENT question  Deploy to prod? [yes/no] (id 3f2a…)
func FormatMessage(msg *model.Message) string {
	var b strings.Builder
	b.WriteString(RenderMuted(msg.Timestamp.Local().Format(timeLayout)))
	b.WriteString(" ")
	b.WriteString(RenderAccent("#" + msg.Channel))
	b.WriteString(" ")
	b.WriteString(renderSender(msg.SenderType))
	b.WriteString(" ")
	b.WriteString(RenderCommand(string(msg.Content.Type)))
	b.WriteString("  ")
	b.WriteString(Summary(msg))
	if msg.Content.Type.IsRequest() {
		b.WriteString(" ")
		b.WriteString(RenderMuted("(id " + msg.ID + ")"))
	}
	return b.String()
}

// Summary is the human-readable body of a message.
func Summary(msg *model.Message) string {
	c := msg.Content
	switch c.Type {
	case model.ContentQuestion:
		s := c.Text
		if len(c.Choices) > 0 {
			s += " [" + strings.Join(c.Choices, "/") + "]"
		}
		return s
	case model.ContentAuthorization:
		s := RenderWarn(c.Action)
		if c.Context != "" {
			s += " " + RenderMuted("("+c.Context+")")
		}
		return s
	case model.ContentNotification:
		return renderPriority(c.Priority, c.Text)
	case model.ContentNavigate:
		return c.URL
	case model.ContentResponse:
		return renderResponse(msg)
	}
	if c.Text != "" {
		return c.Text
	}
	if c.Task != nil {
		return c.Task.Title
	}
	return c.TaskID
}

func renderSender(s model.SenderType) string {
	if s == model.SenderHuman {
		return RenderOK(string(s))
	}
	return RenderMuted(string(s))
}

func renderPriority(p model.Priority, text string) string {
	switch p {
	case model.PriorityUrgent:
		return RenderError(text)
	case model.PriorityHigh:
		return RenderWarn(text)
	}
	return text
}

func renderResponse(msg *model.Message) string {
	c := msg.Content
	label := fmt.Sprintf("re %s: ", msg.CorrelationID)
	switch c.ResponseType {
	case model.ResponseAuthorizationApproved:
		return label + RenderOK("approved")
	case model.ResponseAuthorizationDenied:
		return label + RenderError("denied")
	case model.ResponseTimeout, model.ResponseCancelled:
		return label + RenderMuted(string(c.ResponseType))
	}
	return label + c.Answer
}

// FormatTaskState colors a task state, marking blocked pending tasks.
func FormatTaskState(t *model.Task) string {
	switch {
	case t.State == model.TaskDone:
		return RenderOK(string(t.State))
	case t.State == model.TaskAbandoned:
		return RenderMuted(string(t.State))
	case t.Blocked:
		return RenderWarn("blocked")
	}
	return string(t.State)
}
