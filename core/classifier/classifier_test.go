package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"finetune-orchestrator/core/models"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"repository not found", "huggingface_hub.errors.RepositoryNotFoundError: 404 Client Error. Repository Not Found for url", ModelNotFound},
		{"unauthorized", "HTTPError: 401 Client Error: Unauthorized for url", AuthenticationFailure},
		{"gated repo", "Cannot access gated repo for url. Access to this model is restricted.", AccessForbidden},
		{"missing data file", "FileNotFoundError: [Errno 2] No such file or directory: '/data/run1/train.jsonl'", DataFileMissing},
		{"missing key", "KeyError: 'completion'", DataKeyMissing},
		{"unsupported format", "ValueError: Unsupported data format, check the supported formats.", DataFormatUnsupported},
		{"malformed json", "json.decoder.JSONDecodeError: Expecting value: line 7 column 1", MalformedRecord},
		{"unknown", "RuntimeError: something nobody anticipated", Unclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.text, models.ModeSFT)
			assert.Equal(t, tt.want, d.Category)
		})
	}
}

func TestClassify_KeyErrorNamesFieldAndModeKeys(t *testing.T) {
	d := Classify("Traceback (most recent call last):\nKeyError: 'answer'", models.ModeSFT)

	assert.Equal(t, DataKeyMissing, d.Category)
	assert.Contains(t, d.Message, `"answer"`)
	// Remediation lists the keys for the mode in effect, not the key that
	// happened to be missing.
	assert.Contains(t, d.Remediation, "prompt, completion")
	assert.Contains(t, d.Remediation, "sft")
}

func TestClassify_KeyErrorPerMode(t *testing.T) {
	dpo := Classify("KeyError: 'chosen'", models.ModeDPO)
	assert.Contains(t, dpo.Remediation, "prompt, chosen, rejected")

	grpo := Classify("KeyError: 'answer'", models.ModeGRPO)
	assert.Contains(t, grpo.Remediation, "prompt, answer")
}

func TestClassify_PriorityOrder(t *testing.T) {
	// Text matching both the not-found and authentication rules resolves to
	// the earlier rule.
	text := "401 Unauthorized. Repository Not Found for url: the model does not exist or you lack access."
	d := Classify(text, models.ModeSFT)
	assert.Equal(t, ModelNotFound, d.Category)

	// KeyError inside a file-not-found trace still resolves to the file.
	text = "FileNotFoundError: no such file or directory: train.jsonl\nKeyError: 'prompt'"
	d = Classify(text, models.ModeSFT)
	assert.Equal(t, DataFileMissing, d.Category)
}

func TestClassify_UnclassifiedPassesTextThrough(t *testing.T) {
	raw := "  RuntimeError: cryptic internal state  "
	d := Classify(raw, models.ModeSFT)

	assert.Equal(t, Unclassified, d.Category)
	assert.Equal(t, "RuntimeError: cryptic internal state", d.Message)
	assert.Empty(t, d.Remediation)
	assert.Equal(t, d.Message, d.String())
}

func TestDiagnosis_String(t *testing.T) {
	d := Diagnosis{Message: "broke", Remediation: "fix it"}
	assert.Equal(t, "broke\n\nfix it", d.String())
}
