package classifier

import (
	"math"
	"strings"
	"unicode"
)

// Pipeline turns raw text into a binary prediction (1 = spam).
type Pipeline interface {
	Predict(text string) (int, error)
}

// ProbabilityEstimator is implemented by pipelines that can report the
// probability of the spam class. Callers must type-assert for it.
type ProbabilityEstimator interface {
	PredictProba(text string) (float64, error)
}

type pipeline struct {
	lowercase   bool
	strip       bool
	minLen      int
	stopWords   map[string]struct{}
	vocabulary  map[string]int
	idf         []float64
	ngramMax    int
	sublinearTF bool
	l2          bool
	est         Estimator
}

// probabilistic adds PredictProba to pipelines whose estimator can score it.
type probabilistic struct {
	*pipeline
}

// Build validates the model and returns a ready pipeline. The result
// implements ProbabilityEstimator for logistic regression and naive bayes
// estimators only.
func (m *Model) Build() (Pipeline, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p := &pipeline{
		lowercase:   m.Cleaner.Lowercase,
		strip:       m.Cleaner.StripPunctuation,
		minLen:      m.Cleaner.MinTokenLen,
		stopWords:   make(map[string]struct{}, len(m.Cleaner.StopWords)),
		vocabulary:  m.Vectorizer.Vocabulary,
		idf:         m.Vectorizer.IDF,
		ngramMax:    m.Vectorizer.NgramMax,
		sublinearTF: m.Vectorizer.SublinearTF,
		l2:          m.Vectorizer.Norm == "l2",
		est:         m.Estimator,
	}
	if p.ngramMax == 0 {
		p.ngramMax = 1
	}
	for _, w := range m.Cleaner.StopWords {
		if p.lowercase {
			w = strings.ToLower(w)
		}
		p.stopWords[w] = struct{}{}
	}
	switch m.Estimator.Kind {
	case KindLogisticRegression, KindMultinomialNB:
		return probabilistic{p}, nil
	default:
		return p, nil
	}
}

func (p *pipeline) Predict(text string) (int, error) {
	x := p.vectorize(text)
	switch p.est.Kind {
	case KindMultinomialNB:
		jll := p.jointLogLikelihood(x)
		if jll[1] > jll[0] {
			return 1, nil
		}
		return 0, nil
	default:
		if p.decision(x) > 0 {
			return 1, nil
		}
		return 0, nil
	}
}

func (p probabilistic) PredictProba(text string) (float64, error) {
	x := p.vectorize(text)
	if p.est.Kind == KindMultinomialNB {
		jll := p.jointLogLikelihood(x)
		hi := math.Max(jll[0], jll[1])
		e0 := math.Exp(jll[0] - hi)
		e1 := math.Exp(jll[1] - hi)
		return e1 / (e0 + e1), nil
	}
	return 1 / (1 + math.Exp(-p.decision(x))), nil
}

// tokens returns the cleaned unigrams for text.
func (p *pipeline) tokens(text string) []string {
	if p.lowercase {
		text = strings.ToLower(text)
	}
	if p.strip {
		text = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				return r
			}
			return ' '
		}, text)
	}
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < p.minLen {
			continue
		}
		if _, stop := p.stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// vectorize produces a sparse tf-idf vector keyed by vocabulary index.
func (p *pipeline) vectorize(text string) map[int]float64 {
	tokens := p.tokens(text)
	counts := make(map[int]float64)
	for n := 1; n <= p.ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			term := tokens[i]
			if n > 1 {
				term = strings.Join(tokens[i:i+n], " ")
			}
			if idx, ok := p.vocabulary[term]; ok {
				counts[idx]++
			}
		}
	}

	var norm float64
	for idx, tf := range counts {
		if p.sublinearTF {
			tf = 1 + math.Log(tf)
		}
		if len(p.idf) > 0 {
			tf *= p.idf[idx]
		}
		counts[idx] = tf
		norm += tf * tf
	}
	if p.l2 && norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range counts {
			counts[idx] /= norm
		}
	}
	return counts
}

func (p *pipeline) decision(x map[int]float64) float64 {
	score := p.est.Intercept
	for idx, v := range x {
		score += p.est.Coef[idx] * v
	}
	return score
}

func (p *pipeline) jointLogLikelihood(x map[int]float64) [2]float64 {
	var jll [2]float64
	for c := 0; c < 2; c++ {
		jll[c] = p.est.ClassLogPrior[c]
		for idx, v := range x {
			jll[c] += v * p.est.FeatureLogProb[c][idx]
		}
	}
	return jll
}
