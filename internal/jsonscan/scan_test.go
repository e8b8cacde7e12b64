package jsonscan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchObjectIgnoresBracesInStrings(t *testing.T) {
	s := `{"command":{"tool":"Shell","args":{"cmd":"echo \"}\""}}} trailing`
	end := MatchObject(s, 0)
	require.Equal(t, len(`{"command":{"tool":"Shell","args":{"cmd":"echo \"}\""}}}`)-1, end)
}

func TestMatchObjectUnbalanced(t *testing.T) {
	require.Equal(t, -1, MatchObject(`{"a":{"b":1}`, 0))
	require.Equal(t, -1, MatchObject(`{"a":"unterminated}`, 0))
	require.Equal(t, -1, MatchObject(`x{}`, 0))
}

func TestDecodeStringEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `"hello"`, "hello"},
		{"newline and tab", `"a\nb\tc\r"`, "a\nb\tc\r"},
		{"quotes and slashes", `"say \"hi\" \\ \/"`, `say "hi" \ /`},
		{"unicode", `"caf\u00e9"`, "caf\u00e9"},
		{"surrogate pair", `"\ud83d\ude00"`, "\U0001F600"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, end, ok := DecodeString(tc.in, 0)
			require.True(t, ok)
			require.Equal(t, len(tc.in), end)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeStringUnterminated(t *testing.T) {
	got, _, ok := DecodeString(`"partial text`, 0)
	require.False(t, ok)
	require.Equal(t, "partial text", got)
}

func TestStringFieldNested(t *testing.T) {
	line := `{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":false}`
	v, ok := StringField(line, "content")
	require.True(t, ok)
	require.Equal(t, "hi", v)

	done, present := BoolField(line, "done")
	require.True(t, present)
	require.False(t, done)
}

func TestFindKeySkipsStringValues(t *testing.T) {
	line := `{"note":"\"content\": fake","content":"real"}`
	v, ok := StringField(line, "content")
	require.True(t, ok)
	require.Equal(t, "real", v)
}

func TestObjectField(t *testing.T) {
	line := `{"choices":[{"delta":{"content":"x","role":"assistant"},"index":0}]}`
	obj, ok := ObjectField(line, "delta")
	require.True(t, ok)
	require.Equal(t, `{"content":"x","role":"assistant"}`, obj)
	require.True(t, HasKey(line, "choices"))
	require.False(t, HasKey(line, "missing"))
}

func TestBoolFieldMissing(t *testing.T) {
	_, present := BoolField(`{"done":"yes"}`, "done")
	require.False(t, present)
	_, present = BoolField(`{}`, "done")
	require.False(t, present)
}
