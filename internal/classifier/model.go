package classifier

import (
	"errors"
	"fmt"
)

// Estimator kinds understood by Build.
const (
	KindLogisticRegression = "logistic_regression"
	KindLinearSVC          = "linear_svc"
	KindMultinomialNB      = "multinomial_nb"
)

const (
	LabelSpam    = "SPAM"
	LabelNotSpam = "NOT_SPAM"
)

// Label maps a prediction to its response label. 1 is spam.
func Label(pred int) string {
	if pred == 1 {
		return LabelSpam
	}
	return LabelNotSpam
}

// Model is the decoded form of a trained artifact.
type Model struct {
	Cleaner    Cleaner    `json:"cleaner"`
	Vectorizer Vectorizer `json:"vectorizer"`
	Estimator  Estimator  `json:"estimator"`
}

type Cleaner struct {
	Lowercase        bool     `json:"lowercase"`
	StripPunctuation bool     `json:"strip_punctuation"`
	MinTokenLen      int      `json:"min_token_len"`
	StopWords        []string `json:"stop_words,omitempty"`
}

type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf,omitempty"`
	NgramMax    int            `json:"ngram_max"`
	SublinearTF bool           `json:"sublinear_tf"`
	Norm        string         `json:"norm"`
}

type Estimator struct {
	Kind           string      `json:"kind"`
	Coef           []float64   `json:"coef,omitempty"`
	Intercept      float64     `json:"intercept"`
	ClassLogPrior  []float64   `json:"class_log_prior,omitempty"`
	FeatureLogProb [][]float64 `json:"feature_log_prob,omitempty"`
}

// ErrInvalidModel is wrapped by every validation failure in Build.
var ErrInvalidModel = errors.New("invalid model")

// Validate checks that the model dimensions agree with the vocabulary.
func (m *Model) Validate() error {
	vocab := len(m.Vectorizer.Vocabulary)
	if vocab == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrInvalidModel)
	}
	for token, idx := range m.Vectorizer.Vocabulary {
		if idx < 0 || idx >= vocab {
			return fmt.Errorf("%w: vocabulary index %d for %q out of range", ErrInvalidModel, idx, token)
		}
	}
	if n := len(m.Vectorizer.IDF); n != 0 && n != vocab {
		return fmt.Errorf("%w: idf has %d entries, vocabulary has %d", ErrInvalidModel, n, vocab)
	}
	switch m.Vectorizer.Norm {
	case "", "l2":
	default:
		return fmt.Errorf("%w: unsupported norm %q", ErrInvalidModel, m.Vectorizer.Norm)
	}
	if m.Vectorizer.NgramMax < 0 {
		return fmt.Errorf("%w: negative ngram_max", ErrInvalidModel)
	}

	est := m.Estimator
	switch est.Kind {
	case KindLogisticRegression, KindLinearSVC:
		if len(est.Coef) != vocab {
			return fmt.Errorf("%w: coef has %d entries, vocabulary has %d", ErrInvalidModel, len(est.Coef), vocab)
		}
	case KindMultinomialNB:
		if len(est.ClassLogPrior) != 2 || len(est.FeatureLogProb) != 2 {
			return fmt.Errorf("%w: naive bayes needs exactly two classes", ErrInvalidModel)
		}
		for c, row := range est.FeatureLogProb {
			if len(row) != vocab {
				return fmt.Errorf("%w: feature_log_prob[%d] has %d entries, vocabulary has %d", ErrInvalidModel, c, len(row), vocab)
			}
		}
	case "":
		return fmt.Errorf("%w: estimator kind missing", ErrInvalidModel)
	default:
		return fmt.Errorf("%w: unknown estimator kind %q", ErrInvalidModel, est.Kind)
	}
	return nil
}
