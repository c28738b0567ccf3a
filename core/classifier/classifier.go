package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"finetune-orchestrator/core/models"
)

// Category is one of the closed set of diagnostic categories raw trainer
// output can be classified into.
type Category string

const (
	ModelNotFound         Category = "model_not_found"
	AuthenticationFailure Category = "authentication_failure"
	AccessForbidden       Category = "access_forbidden"
	DataFileMissing       Category = "data_file_missing"
	DataKeyMissing        Category = "data_key_missing"
	DataFormatUnsupported Category = "data_format_unsupported"
	MalformedRecord       Category = "malformed_record"
	Unclassified          Category = "unclassified"
)

// Diagnosis is a classified failure: the category, a human-readable
// explanation, and concrete remediation steps.
type Diagnosis struct {
	Category    Category
	Message     string
	Remediation string
}

func (d Diagnosis) String() string {
	if d.Remediation == "" {
		return d.Message
	}
	return d.Message + "\n\n" + d.Remediation
}

var keyErrorPattern = regexp.MustCompile(`KeyError: ['"]([^'"]+)['"]`)

// rule is one ordered classification pattern. The first rule whose match
// function fires wins; this priority order is fixed and is the tie-break
// when output text matches several categories at once.
type rule struct {
	category Category
	match    func(lower string) bool
	build    func(text string, mode models.TrainingMode) Diagnosis
}

var rules = []rule{
	{
		category: ModelNotFound,
		match: func(lower string) bool {
			return strings.Contains(lower, "repository not found") ||
				strings.Contains(lower, "model not found") ||
				(strings.Contains(lower, "404") && strings.Contains(lower, "model"))
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    ModelNotFound,
				Message:     "The model could not be found on the hub.",
				Remediation: "Check the model identifier for typos, and confirm the model exists and is public (or that your access token can see it).",
			}
		},
	},
	{
		category: AuthenticationFailure,
		match: func(lower string) bool {
			return strings.Contains(lower, "401") ||
				strings.Contains(lower, "unauthorized") ||
				strings.Contains(lower, "invalid credentials") ||
				strings.Contains(lower, "token is invalid")
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    AuthenticationFailure,
				Message:     "The hub rejected the access token.",
				Remediation: "Set a valid access token in the application settings and try again.",
			}
		},
	},
	{
		category: AccessForbidden,
		match: func(lower string) bool {
			return strings.Contains(lower, "403") ||
				strings.Contains(lower, "forbidden") ||
				strings.Contains(lower, "gated repo") ||
				strings.Contains(lower, "awaiting a review")
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    AccessForbidden,
				Message:     "Access to the model was forbidden. It is likely gated or private.",
				Remediation: "Request access on the model's hub page, accept its license terms, and make sure your token has permission to read it.",
			}
		},
	},
	{
		category: DataFileMissing,
		match: func(lower string) bool {
			return (strings.Contains(lower, "no such file") || strings.Contains(lower, "filenotfounderror")) &&
				(strings.Contains(lower, ".jsonl") || strings.Contains(lower, "train") || strings.Contains(lower, "data"))
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    DataFileMissing,
				Message:     "A training data file is missing.",
				Remediation: "Make sure the data directory contains train.jsonl (and valid.jsonl if validation is enabled) and that the path in the job configuration is correct.",
			}
		},
	},
	{
		category: DataKeyMissing,
		match: func(lower string) bool {
			return strings.Contains(lower, "keyerror")
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			keys := mode.RequiredKeys()
			msg := "A training record is missing a required field."
			if m := keyErrorPattern.FindStringSubmatch(text); m != nil {
				msg = fmt.Sprintf("A training record is missing the required field %q.", m[1])
			}
			return Diagnosis{
				Category: DataKeyMissing,
				Message:  msg,
				Remediation: fmt.Sprintf("Every record in the data files must contain the fields {%s} for %s training. Fix the records that lack them.",
					strings.Join(keys, ", "), mode),
			}
		},
	},
	{
		category: DataFormatUnsupported,
		match: func(lower string) bool {
			return strings.Contains(lower, "unsupported data format") ||
				strings.Contains(lower, "unsupported file format") ||
				strings.Contains(lower, "could not determine dataset format")
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    DataFormatUnsupported,
				Message:     "The trainer does not support the data file format.",
				Remediation: "Convert the dataset to JSON Lines (.jsonl), one JSON object per line.",
			}
		},
	},
	{
		category: MalformedRecord,
		match: func(lower string) bool {
			return strings.Contains(lower, "jsondecodeerror") ||
				strings.Contains(lower, "expecting value") ||
				strings.Contains(lower, "invalid json")
		},
		build: func(text string, mode models.TrainingMode) Diagnosis {
			return Diagnosis{
				Category:    MalformedRecord,
				Message:     "A line in the data files is not valid JSON.",
				Remediation: "Validate the .jsonl files: every line must be a complete JSON object with no trailing commas or comments.",
			}
		},
	},
}

// Classify runs the ordered pattern search over combined trainer output.
// mode is the training mode in effect when the job was launched; it
// specializes the remediation for missing-key failures. Text matching no
// rule is passed through verbatim as Unclassified.
//
// Matching is substring/regex based over unstructured text and can
// misclassify; that is an accepted limitation of parsing a black-box
// trainer's output.
func Classify(text string, mode models.TrainingMode) Diagnosis {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if r.match(lower) {
			return r.build(text, mode)
		}
	}
	return Diagnosis{
		Category: Unclassified,
		Message:  strings.TrimSpace(text),
	}
}
