package notify

import (
	"context"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/config"
)

func newTestSMTP(t *testing.T, send sendFunc) *SMTP {
	t.Helper()
	s, err := NewSMTP(config.Config{SMTPHost: "mail.test", SMTPPort: 2525, SMTPFrom: "crm@shop.test"})
	require.NoError(t, err)
	s.send = send
	return s
}

func TestSendBuildsHTMLMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := newTestSMTP(t, func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	})

	id, err := s.Send(context.Background(), "ann@client.test", "Order A-1\r\nBcc: x", "<p>ready</p>")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@mail.test>"))
	assert.Equal(t, "mail.test:2525", gotAddr)
	assert.Equal(t, []string{"ann@client.test"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Order A-1  Bcc: x\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(gotMsg, "<p>ready</p>"))
}

func TestSendClassifiesErrors(t *testing.T) {
	s := newTestSMTP(t, func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	})
	_, err := s.Send(context.Background(), "ann@client.test", "s", "b")
	assert.True(t, apperr.IsPermanent(err))

	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 421, Msg: "try later"}
	}
	_, err = s.Send(context.Background(), "ann@client.test", "s", "b")
	require.Error(t, err)
	assert.False(t, apperr.IsPermanent(err))

	_, err = s.Send(context.Background(), "not-an-address", "s", "b")
	assert.True(t, apperr.IsPermanent(err))
}

func TestNewSMTPRequiresHost(t *testing.T) {
	_, err := NewSMTP(config.Config{SMTPFrom: "a@b"})
	assert.Error(t, err)
}
