package wire

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeparators(t *testing.T) {
	assert.Equal(t, byte(28), FrameSeparator[0])
	assert.Equal(t, byte(29), FieldSeparator[0])
	assert.Equal(t, "C", CloseFrame)
}

func TestIdentifyFrame(t *testing.T) {
	frame, err := IdentifyFrame(Identity{UID: "abc", SecurityToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, `I{"uid":"abc","securityToken":"secret"}`, frame)

	tag, body, err := Split(frame)
	require.NoError(t, err)
	assert.Equal(t, TagIdentify, tag)

	id, err := ParseIdentify(body)
	require.NoError(t, err)
	assert.Equal(t, "abc", id.UID)
	assert.Equal(t, "secret", id.SecurityToken)
}

func TestParseIdentify_Malformed(t *testing.T) {
	_, err := ParseIdentify("{not json")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedIdentify)
}

func TestControlFrames(t *testing.T) {
	assert.Equal(t, "RINVALID_SECURITY_TOKEN", RejectFrame(ReasonInvalidSecurityToken))
	assert.Equal(t, "Sorders", SubscribeFrame("orders"))
	assert.Equal(t, "Uorders", UnsubscribeFrame("orders"))
	assert.Equal(t, "Eboom", ErrorFrame("boom"))
}

func TestMsgFrame(t *testing.T) {
	frame := MsgFrame("orders", []byte(`{"id":1}`))
	assert.Equal(t, "Morders\x1d{\"id\":1}", frame)

	topic, payload, ok := SplitMsg(frame[1:])
	require.True(t, ok)
	assert.Equal(t, "orders", topic)
	assert.Equal(t, `{"id":1}`, payload)
}

func TestSplitMsg_PayloadMayContainFieldSeparator(t *testing.T) {
	topic, payload, ok := SplitMsg("t\x1da\x1db")
	require.True(t, ok)
	assert.Equal(t, "t", topic)
	assert.Equal(t, "a\x1db", payload)
}

func TestSplitMsg_Invalid(t *testing.T) {
	_, _, ok := SplitMsg("no-separator")
	assert.False(t, ok)

	_, _, ok = SplitMsg("\x1dpayload")
	assert.False(t, ok)
}

func TestSplit_Empty(t *testing.T) {
	_, _, err := Split("")
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestValidTopic(t *testing.T) {
	assert.True(t, ValidTopic("orders.created"))
	assert.False(t, ValidTopic(""))
	assert.False(t, ValidTopic("bad\x1ctopic"))
	assert.False(t, ValidTopic("bad\x1dtopic"))
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "msg", TagMsg.String())
	assert.Equal(t, "unknown", Tag('Z').String())
}

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single frame", input: "Sorders\x1c", want: []string{"Sorders"}},
		{name: "multiple frames", input: "Sa\x1cSb\x1cUa\x1c", want: []string{"Sa", "Sb", "Ua"}},
		{name: "trailing fragment dropped", input: "Sa\x1cSb", want: []string{"Sa"}},
		{name: "empty frame kept", input: "\x1cSa\x1c", want: []string{"", "Sa"}},
		{name: "no frames", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(SplitFrames)

			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			require.NoError(t, scanner.Err())
			assert.Equal(t, tt.want, got)
		})
	}
}

// Frames split across reads must be reassembled.
func TestSplitFrames_ChunkedReader(t *testing.T) {
	r := &chunkReader{chunks: []string{"Mor", "ders\x1d{}", "\x1cSx", "\x1c"}}
	scanner := bufio.NewScanner(r)
	scanner.Split(SplitFrames)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"Morders\x1d{}", "Sx"}, got)
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}
