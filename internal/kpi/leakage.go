package kpi

import (
	"math"
	"math/rand"
	"sort"

	"neuroharmony/domain/harmonize"
	"neuroharmony/domain/kpi"
)

// SiteLeakageAUC trains a cross-validated one-vs-rest logistic classifier
// to predict the site label from the feature set and reports the mean
// held-out AUC. Values near the chance baseline (1/numSites) indicate
// successful bias removal; values near 1.0 indicate persistent site
// signal. Stratified k-fold keeps every site represented in each fold;
// the fold count is clamped to the smallest site size when necessary.
func SiteLeakageAUC(features *harmonize.FeatureMatrix, design *harmonize.Design, folds int, seed int64) kpi.MetricValue {
	n := features.NumSamples()
	if n == 0 || n != design.NumSamples() {
		return kpi.Undefined("sample count mismatch")
	}
	k := design.NumSites()
	if k < 2 {
		return kpi.Undefined("fewer than two site levels")
	}

	minSite := design.SiteCounts[0]
	for _, c := range design.SiteCounts[1:] {
		if c < minSite {
			minSite = c
		}
	}
	if folds > minSite {
		folds = minSite
	}
	if folds < 2 {
		return kpi.Undefined("smallest site too small for cross-validation")
	}

	foldOf := stratifiedFolds(design, folds, seed)

	aucs := make([]float64, 0, folds*k)
	for f := 0; f < folds; f++ {
		var trainIdx, testIdx []int
		for s := 0; s < n; s++ {
			if foldOf[s] == f {
				testIdx = append(testIdx, s)
			} else {
				trainIdx = append(trainIdx, s)
			}
		}
		if len(trainIdx) == 0 || len(testIdx) == 0 {
			continue
		}

		scaler := fitScaler(features, trainIdx)
		xTrain := scaler.apply(features, trainIdx)
		xTest := scaler.apply(features, testIdx)

		for class := 0; class < k; class++ {
			yTrain := make([]float64, len(trainIdx))
			pos, neg := 0, 0
			for r, s := range trainIdx {
				if design.SiteIndex[s] == class {
					yTrain[r] = 1
				}
			}
			yTest := make([]float64, len(testIdx))
			for r, s := range testIdx {
				if design.SiteIndex[s] == class {
					yTest[r] = 1
					pos++
				} else {
					neg++
				}
			}
			if pos == 0 || neg == 0 {
				continue
			}

			w := trainLogistic(xTrain, yTrain)
			scores := make([]float64, len(testIdx))
			for r, x := range xTest {
				scores[r] = logit(w, x)
			}
			aucs = append(aucs, rankAUC(scores, yTest))
		}
	}

	if len(aucs) == 0 {
		return kpi.Undefined("no fold produced both classes in the held-out set")
	}
	sum := 0.0
	for _, a := range aucs {
		sum += a
	}
	return kpi.Defined(sum / float64(len(aucs)))
}

// ChanceAUC returns the chance baseline generalized to numSites classes
func ChanceAUC(numSites int) float64 {
	if numSites < 2 {
		return 0.5
	}
	return 1.0 / float64(numSites)
}

// stratifiedFolds assigns each sample to a fold, round-robin within its
// site after a seeded shuffle, so every fold sees every site.
func stratifiedFolds(design *harmonize.Design, folds int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	foldOf := make([]int, design.NumSamples())
	for i := 0; i < design.NumSites(); i++ {
		rows := design.SiteSamples(i)
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		for r, s := range rows {
			foldOf[s] = r % folds
		}
	}
	return foldOf
}

// scaler standardizes features to the training fold's moments
type scaler struct {
	mean []float64
	sd   []float64
}

func fitScaler(features *harmonize.FeatureMatrix, idx []int) *scaler {
	p := features.NumFeatures()
	sc := &scaler{mean: make([]float64, p), sd: make([]float64, p)}
	for j := 0; j < p; j++ {
		m := 0.0
		for _, s := range idx {
			m += features.Data[s][j]
		}
		m /= float64(len(idx))
		v := 0.0
		for _, s := range idx {
			d := features.Data[s][j] - m
			v += d * d
		}
		v /= float64(len(idx))
		sc.mean[j] = m
		sc.sd[j] = math.Sqrt(v)
		if sc.sd[j] == 0 {
			sc.sd[j] = 1
		}
	}
	return sc
}

func (sc *scaler) apply(features *harmonize.FeatureMatrix, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for r, s := range idx {
		row := make([]float64, len(sc.mean))
		for j := range row {
			row[j] = (features.Data[s][j] - sc.mean[j]) / sc.sd[j]
		}
		out[r] = row
	}
	return out
}

// trainLogistic fits an L2-regularized logistic regression by batch
// gradient descent. The weight vector carries the bias in its last slot.
func trainLogistic(x [][]float64, y []float64) []float64 {
	const (
		iterations = 200
		rate       = 0.1
		lambda     = 1e-3
	)
	p := len(x[0])
	w := make([]float64, p+1)
	n := float64(len(x))

	grad := make([]float64, p+1)
	for it := 0; it < iterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		for r, row := range x {
			err := sigmoid(logit(w, row)) - y[r]
			for j, v := range row {
				grad[j] += err * v
			}
			grad[p] += err
		}
		for j := 0; j < p; j++ {
			w[j] -= rate * (grad[j]/n + lambda*w[j])
		}
		w[p] -= rate * grad[p] / n
	}
	return w
}

func logit(w []float64, x []float64) float64 {
	s := w[len(w)-1]
	for j, v := range x {
		s += w[j] * v
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// rankAUC computes the area under the ROC curve from scores using the
// Mann-Whitney statistic with average ranks for ties.
func rankAUC(scores, labels []float64) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(scores))
	npos, nneg := 0, 0
	for i, s := range scores {
		pos := labels[i] == 1
		pairs[i] = pair{score: s, pos: pos}
		if pos {
			npos++
		} else {
			nneg++
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].score < pairs[b].score })

	rankSum := 0.0
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // ranks are 1-based
		for t := i; t < j; t++ {
			if pairs[t].pos {
				rankSum += avgRank
			}
		}
		i = j
	}

	return (rankSum - float64(npos)*float64(npos+1)/2.0) / (float64(npos) * float64(nneg))
}
