package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLengthBounds(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrEmptyMessage},
		{"whitespace only", " \n\t ", ErrEmptyMessage},
		{"one char", "a", nil},
		{"exact limit", strings.Repeat("a", MaxTextLength), nil},
		{"limit after trim", "  " + strings.Repeat("a", MaxTextLength) + "\n", nil},
		{"limit in multibyte runes", strings.Repeat("é", MaxTextLength), nil},
		{"over limit", strings.Repeat("a", MaxTextLength+1), ErrMessageTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(Fields{Type: User, Recipient: "628123", Text: tc.text})
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "message", verr.Field)
		})
	}
}

func TestBuildRecipientRequiredExceptStatus(t *testing.T) {
	_, err := Build(Fields{Type: Group, Recipient: "  ", Text: "hi"})
	require.ErrorIs(t, err, ErrEmptyRecipient)

	req, err := Build(Fields{Type: Status, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusRecipient, req.RecipientID)
	assert.True(t, req.IsStatus())
}

func TestBuildRecipientSuffix(t *testing.T) {
	cases := []struct {
		typ       RecipientType
		recipient string
		want      string
	}{
		{User, "628123", "628123@s.whatsapp.net"},
		{"", "628123", "628123@s.whatsapp.net"},
		{Group, "1203630", "1203630@g.us"},
		{Newsletter, "1209", "1209@newsletter"},
		{Group, "1203630@g.us", "1203630@g.us"},
		{Status, "ignored", StatusRecipient},
	}
	for _, tc := range cases {
		req, err := Build(Fields{Type: tc.typ, Recipient: tc.recipient, Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, req.RecipientID)
	}
}

func TestBuildOptionalFields(t *testing.T) {
	req, err := Build(Fields{Type: User, Recipient: "1", Text: " hi "})
	require.NoError(t, err)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"phone":"1@s.whatsapp.net","message":"hi","is_forwarded":false}`, string(b))

	req, err = Build(Fields{
		Type: Group, Recipient: "g", Text: "hi", IsForwarded: true,
		MentionEveryone: true, ReplyMessageID: " 3EB0 ", DurationSeconds: 86400,
	})
	require.NoError(t, err)
	b, err = json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"phone":"g@g.us","message":"hi","is_forwarded":true,
		"reply_message_id":"3EB0","duration":86400,"mentions":["@everyone"]}`, string(b))
}

func TestBuildMentionsOnlyForGroups(t *testing.T) {
	for _, typ := range []RecipientType{User, Newsletter, Status} {
		req, err := Build(Fields{Type: typ, Recipient: "1", Text: "hi", MentionEveryone: true})
		require.NoError(t, err)
		assert.Nil(t, req.Mentions, typ)
		assert.True(t, req.MentionEveryone)
	}
}

func TestBuildDropsReplyForStatusAndNonPositiveDuration(t *testing.T) {
	req, err := Build(Fields{Type: Status, Text: "hi", ReplyMessageID: "abc", DurationSeconds: -5})
	require.NoError(t, err)
	assert.Empty(t, req.ReplyMessageID)
	assert.Zero(t, req.DurationSeconds)
}

func TestBuildIsIdempotent(t *testing.T) {
	f := Fields{Type: Group, Recipient: "g", Text: "hello", MentionEveryone: true, DurationSeconds: 60}
	a, errA := Build(f)
	b, errB := Build(f)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestBuildUnknownType(t *testing.T) {
	err := Validate(Fields{Type: "channel", Recipient: "1", Text: "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)
}

func TestParseRecipientType(t *testing.T) {
	for in, want := range map[string]RecipientType{
		"user": User, " GROUP ": Group, "@g.us": Group, "@newsletter": Newsletter,
		"status@broadcast": Status, "@s.whatsapp.net": User,
	} {
		got, err := ParseRecipientType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRecipientType("channel")
	assert.Error(t, err)
}
