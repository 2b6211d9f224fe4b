package api

import (
	"encoding/xml"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/cancellation"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

const (
	maxInboundBytes = 10 << 20
	unmatchedReply  = "Sorry, we could not locate your appointment. Please call the clinic."
)

// twiml is the reply document Twilio expects from an inbound SMS webhook.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

func writeTwiML(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twiml{Message: reply})
}

// smsWebhookHandler receives Twilio's inbound message form (From, Body) and
// answers with TwiML so the reply goes back on the same thread.
func smsWebhookHandler(rec *cancellation.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxInboundBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_form", "could not parse form")
			return
		}
		from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")

		out, err := rec.HandleSignal(r.Context(), cancellation.Signal{
			Channel: appointment.ChannelSMS,
			Contact: from,
			Text:    body,
		})
		switch {
		case errors.Is(err, cancellation.ErrAmbiguousSignal):
			logger.Info("unmatched sms reply", zap.String("from", from))
			writeTwiML(w, unmatchedReply)
		case err != nil:
			handleError(w, r, logger, err)
		default:
			writeTwiML(w, out.Reply)
		}
	}
}

// emailWebhookHandler receives SendGrid Inbound Parse posts (from, subject,
// text). The outcome is returned as JSON and, when a notifier is configured,
// mailed back to the sender.
func emailWebhookHandler(rec *cancellation.Reconciler, replies notify.Notifier, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxInboundBytes)
		if err := r.ParseMultipartForm(maxInboundBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "invalid_form", "could not parse form")
			return
		}
		from := r.FormValue("from")
		subject := r.FormValue("subject")
		text := replyText(r.FormValue("text"))
		if text == "" {
			text = subject
		}

		out, err := rec.HandleSignal(r.Context(), cancellation.Signal{
			Channel: appointment.ChannelEmail,
			Contact: from,
			Text:    text,
		})
		var resp SignalResponse
		switch {
		case errors.Is(err, cancellation.ErrAmbiguousSignal):
			logger.Info("unmatched email reply", zap.String("from", from))
			resp = SignalResponse{Reply: unmatchedReply}
		case err != nil:
			handleError(w, r, logger, err)
			return
		default:
			resp = SignalResponse{Intent: string(out.Intent), Changed: out.Changed, Reply: out.Reply}
			if out.Appointment != nil {
				id := out.Appointment.ID
				resp.AppointmentID = &id
			}
		}

		if replies != nil {
			if addr, err := mail.ParseAddress(from); err == nil {
				msg := notify.Message{To: addr.Address, ToName: addr.Name, Subject: replySubject(subject), Body: resp.Reply}
				if err := replies.Send(r.Context(), msg); err != nil {
					logger.Warn("email reply not delivered", zap.String("to", addr.Address), zap.Error(err))
				}
			}
		}
		// SendGrid retries the post on any non-2xx answer
		writeJSON(w, http.StatusOK, resp)
	}
}

var quoteHeader = regexp.MustCompile(`(?i)^on .+wrote:$`)

// replyText keeps the new part of an email reply, dropping the quoted thread.
func replyText(body string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") || quoteHeader.MatchString(trimmed) || trimmed == "-----Original Message-----" {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Your appointment"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
