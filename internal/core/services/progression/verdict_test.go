package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    JudgeVerdict
	}{
		{
			name:    "valid",
			content: `{"summary":"A was sharper","score_a":8,"score_b":6,"winner":"a","no_new_substantive_arguments":false}`,
			want:    JudgeVerdict{Summary: "A was sharper", ScoreA: 8, ScoreB: 6, Winner: "a"},
		},
		{
			name:    "surrounding whitespace",
			content: "\n {\"summary\":\"even\",\"score_a\":5,\"score_b\":5,\"winner\":\"tie\",\"no_new_substantive_arguments\":true} \n",
			want:    JudgeVerdict{Summary: "even", ScoreA: 5, ScoreB: 5, Winner: "tie", NoNewSubstantiveArguments: true},
		},
		{name: "not json", content: "A wins", wantErr: true},
		{name: "array", content: `[1,2]`, wantErr: true},
		{name: "score out of range", content: `{"summary":"x","score_a":11,"score_b":0,"winner":"a","no_new_substantive_arguments":false}`, wantErr: true},
		{name: "fractional score", content: `{"summary":"x","score_a":7.5,"score_b":0,"winner":"a","no_new_substantive_arguments":false}`, wantErr: true},
		{name: "bad winner", content: `{"summary":"x","score_a":1,"score_b":0,"winner":"A","no_new_substantive_arguments":false}`, wantErr: true},
		{name: "missing flag", content: `{"summary":"x","score_a":1,"score_b":0,"winner":"a"}`, wantErr: true},
		{name: "empty summary", content: `{"summary":"","score_a":1,"score_b":0,"winner":"a","no_new_substantive_arguments":false}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVerdictOrFallback(t *testing.T) {
	v, ok := ParseVerdictOrFallback("not json")
	assert.False(t, ok)
	assert.Equal(t, FallbackVerdict(), v)
	assert.Equal(t, "tie", v.Winner)
	assert.False(t, v.NoNewSubstantiveArguments)
	assert.Equal(t, "Winner: TIE\nScores: A=0, B=0\n\nJudge output was invalid JSON; unable to score reliably.", v.Render())
}

func TestJudgeVerdict_Render(t *testing.T) {
	v := JudgeVerdict{Summary: "B rebutted every point.", ScoreA: 4, ScoreB: 9, Winner: "b"}
	assert.Equal(t, "Winner: B\nScores: A=4, B=9\n\nB rebutted every point.", v.Render())

	meta := v.Metadata()
	assert.Equal(t, 9, meta["score_b"])
	assert.Equal(t, false, meta["no_new_substantive_arguments"])
}
