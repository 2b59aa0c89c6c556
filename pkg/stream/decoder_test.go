package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecoder_Framing(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"",
		"event: progress",
		"id: 7",
		"data: {\"status\":\"processing\",\"progress\":10}",
		"",
		"data:first",
		"data: second",
		"",
		"data: [DONE]",
		"",
	}, "\n")

	d := NewDecoder(strings.NewReader(body))

	msg, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "progress", msg.Event)
	require.Equal(t, "7", msg.ID)
	require.Equal(t, `{"status":"processing","progress":10}`, msg.Data)

	msg, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, "first\nsecond", msg.Data)

	msg, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, Sentinel, msg.Data)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_CRLF(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: hello\r\n\r\n"))

	msg, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Data)
}

func TestDecoder_TruncatedMessage(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"status\":"))

	_, err := d.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_MaxLineBytes(t *testing.T) {
	body := strings.Join([]string{
		"event: progress",
		"data: " + strings.Repeat("x", 64),
		"data: tail",
		"",
		"data: {\"status\":\"completed\",\"url\":\"https://x/v.mp4\"}",
		"",
	}, "\n")
	d := NewDecoder(strings.NewReader(body))
	d.SetMaxLineBytes(16)

	_, err := d.Next()
	require.ErrorIs(t, err, ErrMessageTooLarge)

	d.SetMaxLineBytes(64)
	msg, err := d.Next()
	require.NoError(t, err)
	require.Empty(t, msg.Event)
	require.Equal(t, `{"status":"completed","url":"https://x/v.mp4"}`, msg.Data)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_OversizedLineSpanningBuffer(t *testing.T) {
	body := "data: " + strings.Repeat("x", 10000) + "\n\ndata: ok\n\n"
	d := NewDecoder(strings.NewReader(body))
	d.SetMaxLineBytes(32)

	_, err := d.Next()
	require.ErrorIs(t, err, ErrMessageTooLarge)

	msg, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Data)
}

func TestDecoder_OversizedLineAtEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: " + strings.Repeat("x", 64)))
	d.SetMaxLineBytes(16)

	_, err := d.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
