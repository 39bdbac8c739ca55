package email

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/alarm-service/internal/model"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestPresenter(t *testing.T) {
	sender := &fakeSender{}
	p := NewPresenterWithSender(Config{From: "alarms@example.com", To: []string{"ops@example.com"}}, sender)
	assert.Equal(t, "email", p.Name())

	require.NoError(t, p.Present(context.Background(), model.Notification{Title: "Reminder: lunch", Priority: model.AlarmPriorityNormal}))
	assert.Empty(t, sender.sent)

	n := model.Notification{Title: "Reminder: <meds>", Body: "Take them", Tag: "alarm-a1", Priority: model.AlarmPriorityHigh}
	require.NoError(t, p.Present(context.Background(), n))
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, []string{"Reminder: <meds>"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"ops@example.com"}, m.GetHeader("To"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "&lt;meds&gt;")
}

func TestPresenter_SendError(t *testing.T) {
	sender := &fakeSender{err: stderrors.New("connection refused")}
	p := NewPresenterWithSender(Config{From: "a@example.com", To: []string{"b@example.com"}}, sender)

	err := p.Present(context.Background(), model.Notification{Title: "x", Priority: model.AlarmPriorityHigh})
	assert.ErrorContains(t, err, "connection refused")
}
