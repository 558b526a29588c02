package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haykal-fe-verd/reseply-sub001/internal/provider"
)

func TestDecodeChatRequest(t *testing.T) {
	body := `{
		"model": "ignored",
		"messages": [
			{"role": "system", "content": "Jawab dalam bahasa Indonesia."},
			{"role": "user", "content": "Resep rendang?"},
			{"role": "assistant", "content": [{"type": "text", "text": "Siapkan daging"}, {"type": "text", "text": "dan santan."}]},
			{"role": "user", "content": "Berapa lama?"}
		]
	}`

	msgs, err := decodeChatRequest(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Equal(t, provider.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Siapkan daging\ndan santan.", msgs[2].Content.Text())
	assert.Equal(t, "Berapa lama?", msgs[3].Content.Text())
}

func TestDecodeChatRequest_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"garbage", `{{`, "request body must be a JSON object with a messages array"},
		{"empty", `{"messages":[]}`, "messages must be a non-empty array"},
		{"bad role on second message", `{"messages":[{"role":"user","content":"a"},{"role":"bot","content":"b"}]}`, "messages[1]: role must be one of user, assistant, system"},
		{"whitespace only is still text", `{"messages":[{"role":"user","content":" "}]}`, ""},
		{"blank content", `{"messages":[{"role":"user","content":[]}]}`, "messages[0]: content must contain text"},
		{"trailing value", `{"messages":[{"role":"user","content":"a"}]} {"oops"`, "request body must be a JSON object with a messages array"},
		{"trailing whitespace is fine", "{\"messages\":[{\"role\":\"user\",\"content\":\"a\"}]}\n\t ", ""},
		{"system only", `{"messages":[{"role":"system","content":"Jawab singkat."}]}`, "messages must include a user turn"},
		{"assistant only", `{"messages":[{"role":"assistant","content":"Halo!"}]}`, "messages must include a user turn"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeChatRequest(strings.NewReader(tc.body))
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.want, ve.Message)
		})
	}
}
