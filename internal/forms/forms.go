// Package forms submits server forms and routes the answer through the
// shared response classifier.
package forms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/session"
)

// CSRFField is the form field carrying the anti-forgery token.
const CSRFField = "csrf_token"

// Form is a server form ready for submission.
type Form struct {
	Method      string
	Action      string
	Fields      url.Values
	SuccessPage string
}

// Reset clears every field value.
func (f *Form) Reset() {
	f.Fields = url.Values{}
}

// Poster sends a form-encoded request. transport.Transport satisfies it.
type Poster interface {
	PostForm(ctx context.Context, path string, fields url.Values) (map[string]interface{}, error)
}

// Outcome is the routed result of a submission.
type Outcome struct {
	session.Classification
	// Redirect is the form's success page, set only on success.
	Redirect string
}

// Submitter posts forms on behalf of a session.
type Submitter struct {
	poster  Poster
	session *models.Session
	logger  *events.Logger
}

// NewSubmitter creates a submitter.
func NewSubmitter(poster Poster, sess *models.Session, logger *events.Logger) *Submitter {
	return &Submitter{
		poster:  poster,
		session: sess,
		logger:  logger.WithField("component", "form_submitter"),
	}
}

// Submit posts form and hands the classified answer to h. A transport
// failure is routed as a missing response. On success the form is reset.
// The returned error is the handler's.
func (s *Submitter) Submit(ctx context.Context, form *Form, h session.SubmitHandler) (Outcome, error) {
	method := strings.ToUpper(form.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost {
		return Outcome{}, fmt.Errorf("submit %s: unsupported method %s", form.Action, method)
	}

	fields := url.Values{}
	for k, v := range form.Fields {
		fields[k] = append([]string(nil), v...)
	}
	if fields.Get(CSRFField) == "" {
		if token := s.session.CSRFToken(); token != "" {
			fields.Set(CSRFField, token)
		}
	}

	log := s.logger.WithField("action", form.Action)

	resp, err := s.poster.PostForm(ctx, form.Action, fields)
	if err != nil {
		log.WithError(err).Warn("Form submission failed")
		resp = nil
	}

	c, herr := session.Route(ctx, models.EnvelopeFromMap(resp), h)
	out := Outcome{Classification: c}
	if c.Success {
		form.Reset()
		out.Redirect = form.SuccessPage
		log.Debug("Form accepted")
	} else {
		log.WithField("errors", c.Errors).Info("Form rejected")
	}
	return out, herr
}

// Collector is a SubmitHandler that records what it was given.
type Collector struct {
	Envelope *models.Envelope
	Errors   []string
}

// HandleSuccess records the envelope.
func (c *Collector) HandleSuccess(_ context.Context, env *models.Envelope) error {
	c.Envelope = env
	return nil
}

// HandleFailure records the errors.
func (c *Collector) HandleFailure(_ context.Context, errs []string) error {
	c.Errors = errs
	return nil
}

// TemplateContext builds the values a dialog template renders with: the
// anti-forgery token and the profile it acts on. Values in extra win.
func TemplateContext(sess *models.Session, profile *models.Profile, extra map[string]interface{}) map[string]interface{} {
	vals := map[string]interface{}{
		CSRFField: sess.CSRFToken(),
		"profile": nil,
	}
	if profile != nil {
		p := profile.Clone()
		vals["profile"] = &p
	}
	for k, v := range extra {
		vals[k] = v
	}
	return vals
}
