package mailing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

func TestRenderSubstitutesRecipientFields(t *testing.T) {
	tpl := domain.Template{
		Subject: "Hello {{name}}",
		HTML:    "<p>{{name}}, your address is {{email}} and your plan is {{plan}}.</p>",
		Text:    "{{name}} / {{plan}}",
	}
	r := domain.Recipient{
		Email:    "ana@example.com",
		Name:     "Ana",
		Metadata: map[string]string{"plan": "pro"},
	}

	out := Render(tpl, r)
	assert.Equal(t, "Hello Ana", out.Subject)
	assert.Equal(t, "<p>Ana, your address is ana@example.com and your plan is pro.</p>", out.HTML)
	assert.Equal(t, "Ana / pro", out.Text)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	tpl := domain.Template{Subject: "Hi {{name}}, code {{coupon}}"}
	out := Render(tpl, domain.Recipient{Name: "Bo", Email: "bo@example.com"})
	assert.Equal(t, "Hi Bo, code {{coupon}}", out.Subject)
}

func TestRenderSinglePass(t *testing.T) {
	// A value containing placeholder syntax must not be re-expanded.
	tpl := domain.Template{Subject: "{{name}} {{plan}}"}
	r := domain.Recipient{
		Name:     "{{plan}}",
		Email:    "x@example.com",
		Metadata: map[string]string{"plan": "pro"},
	}
	out := Render(tpl, r)
	assert.Equal(t, "{{plan}} pro", out.Subject)

	// And rendering twice with empty metadata is idempotent on unknowns.
	again := Render(domain.Template{Subject: out.Subject}, domain.Recipient{Email: "x@example.com"})
	assert.Equal(t, "{{plan}} pro", again.Subject)
}

func TestRenderEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders", "plain text", "plain text"},
		{"unterminated", "hello {{name", "hello {{name"},
		{"empty key", "x {{}} y", "x {{}} y"},
		{"spaces inside braces", "hi {{ name }}", "hi Ana"},
		{"adjacent", "{{name}}{{name}}", "AnaAna"},
		{"empty string", "", ""},
	}
	r := domain.Recipient{Name: "Ana", Email: "a@example.com"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Render(domain.Template{Subject: tt.in}, r)
			assert.Equal(t, tt.want, out.Subject)
		})
	}
}

func TestRecordingTransport(t *testing.T) {
	ctx := context.Background()
	tr := NewRecordingTransport()
	tr.FailFor["bad@example.com"] = "mailbox unavailable"

	id, err := tr.Send(ctx, Outgoing{To: domain.Recipient{Email: "ok@example.com"}, Subject: "s"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = tr.Send(ctx, Outgoing{To: domain.Recipient{Email: "bad@example.com"}})
	require.Error(t, err)

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ok@example.com", sent[0].To.Email)
}
