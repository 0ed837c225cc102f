package store

import (
	"math"
	"math/rand/v2"
)

// trainKMeans clusters data into k centroids using k-means++ seeding and
// Lloyd iterations. The same data, k and seed always give the same centroids.
func trainKMeans(data [][]float32, k, maxIter int, seed uint64) [][]float32 {
	if len(data) == 0 || k <= 0 {
		return nil
	}
	k = min(k, len(data))
	dim := len(data[0])
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	centroids := seedPlusPlus(data, k, rng)
	assign := make([]int, len(data))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range data {
			c := nearestCentroid(centroids, v)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range data {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			// An empty cluster keeps its previous centroid.
			if counts[c] == 0 {
				continue
			}
			next := make([]float32, dim)
			for d := range next {
				next[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = next
		}
	}
	return centroids
}

// seedPlusPlus picks k initial centroids, each drawn with probability
// proportional to its squared distance from the nearest centroid so far.
func seedPlusPlus(data [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVector(data[rng.IntN(len(data))]))

	dist := make([]float64, len(data))
	for i, v := range data {
		dist[i] = squaredL2(v, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range dist {
			total += d
		}

		idx := 0
		if total == 0 {
			// All remaining points coincide with a centroid.
			idx = rng.IntN(len(data))
		} else {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					idx = i
					break
				}
			}
		}

		c := cloneVector(data[idx])
		centroids = append(centroids, c)
		for i, v := range data {
			if d := squaredL2(v, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid, lowest index on ties.
func nearestCentroid(centroids [][]float32, v []float32) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := squaredL2(v, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
