package emailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()

	got := Render(ReminderBody, map[string]string{
		"recording":     "Weekly sync",
		"timeRemaining": "3 days",
		"deleteDate":    "Mon, Mar 11, 2024 at 10:00",
	})
	assert.Contains(t, got, `"Weekly sync" will be deleted in 3 days, on Mon, Mar 11, 2024 at 10:00.`)
	assert.NotContains(t, got, "${")

	assert.Equal(t, "left ${unknown}", Render("left ${unknown}", nil))
}

func TestSMTP_InvalidAddr(t *testing.T) {
	t.Parallel()

	s := &SMTP{Addr: "no-port", From: "recorder@example.org"}
	require.Error(t, s.Send(t.Context(), "a@example.org", "s", "b"))
	require.NoError(t, Log{}.Send(t.Context(), "a@example.org", "s", "b"))
}
