package badge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/dipy-services/internal/model"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("https://example.org/services/sponsors")
	require.NoError(t, err)
	return r
}

func TestSVG(t *testing.T) {
	svg, err := newRenderer(t).SVG(12)

	require.NoError(t, err)
	assert.Contains(t, svg, `width="200" height="28"`)
	assert.Contains(t, svg, ">sponsor</text>")
	assert.Contains(t, svg, "<text x=\"116\" y=\"17\">12</text>")
}

func TestMarkdown(t *testing.T) {
	now := time.Date(2025, 3, 4, 17, 5, 0, 0, time.FixedZone("CET", 3600))
	sponsors := []model.Sponsor{
		{GitHubUsername: "octocat", AvatarURL: "https://a/1", PlanType: model.PlanTeam},
		{GitHubUsername: "hubot", PlanType: model.PlanIndividual},
	}

	md, err := newRenderer(t).Markdown(sponsors, now)

	require.NoError(t, err)
	assert.Contains(t, md, "# 🤝 DIPY Sponsors")
	assert.Contains(t, md,
		`- <img src="https://a/1" width="20" height="20" alt="octocat"> **[octocat](https://github.com/octocat)** - Team Plan`)
	assert.Contains(t, md, "- **[hubot](https://github.com/hubot)** - Individual Plan")
	assert.Contains(t, md, "- **Individual Plan**: $49 - Perfect for individual developers")
	assert.Contains(t, md, "- **Team Plan**: $350 - Great for teams and organizations")
	assert.Contains(t, md, "[Sponsor DIPY →](https://example.org/services/sponsors)")
	assert.Contains(t, md, "*Last updated: 2025-03-04 16:05 UTC*")
	assert.NotContains(t, md, "No sponsors yet")
}

func TestMarkdown_NoSponsors(t *testing.T) {
	md, err := newRenderer(t).Markdown(nil, time.Now())

	require.NoError(t, err)
	assert.Contains(t, md, "No sponsors yet. Be the first! 🎉")
}

func TestProfileSection(t *testing.T) {
	r := newRenderer(t)

	empty, err := r.ProfileSection(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	var sponsors []model.Sponsor
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		sponsors = append(sponsors, model.Sponsor{GitHubUsername: name})
	}
	out, err := r.ProfileSection(sponsors)

	require.NoError(t, err)
	assert.Contains(t, out, "@e</a>")
	assert.NotContains(t, out, "@f</a>", "only the first five sponsors are shown")
}
